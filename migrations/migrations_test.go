package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEachSetHasPairedMigrations(t *testing.T) {
	for _, set := range Sets {
		entries, err := fs.ReadDir(FS, set)
		if err != nil {
			t.Fatalf("read %s: %v", set, err)
		}
		ups, downs := 0, 0
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".up.sql"):
				ups++
			case strings.HasSuffix(e.Name(), ".down.sql"):
				downs++
			}
		}
		if ups == 0 || ups != downs {
			t.Fatalf("%s: %d up and %d down migrations", set, ups, downs)
		}
	}
}

func TestBookingSchemaGuardsOverlap(t *testing.T) {
	raw, err := fs.ReadFile(FS, "booking/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(raw)
	for _, want := range []string{"btree_gist", "EXCLUDE USING gist", "tstzrange(start_time, end_time, '[)')", "status <> 'cancelled'"} {
		if !strings.Contains(sql, want) {
			t.Fatalf("booking schema missing %q", want)
		}
	}
}
