package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/md-rashed-zaman/bookslots/libs/config"
	"github.com/md-rashed-zaman/bookslots/migrations"
)

// Usage: migrate -set schedule|booking [up|down|version|force <n>]
func main() {
	if err := config.LoadDotEnv(); err != nil {
		fatal(err.Error())
	}
	var (
		set   = flag.String("set", config.String("MIGRATION_SET", ""), "migration set: "+strings.Join(migrations.Sets, "|"))
		dbURL = flag.String("database-url", config.String("DATABASE_URL", ""), "postgres connection url")
	)
	flag.Parse()

	if !slices.Contains(migrations.Sets, *set) {
		fatal(fmt.Sprintf("-set must be one of %v", migrations.Sets))
	}
	if strings.TrimSpace(*dbURL) == "" {
		fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", *dbURL)
	if err != nil {
		fatal("open db: " + err.Error())
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		fatal("ping db: " + err.Error())
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations_" + *set})
	if err != nil {
		fatal("db driver: " + err.Error())
	}
	srcDriver, err := iofs.New(migrations.FS, *set)
	if err != nil {
		fatal("source driver: " + err.Error())
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		fatal("create migrator: " + err.Error())
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}
	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		v, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			fatal("version: " + verr.Error())
		}
		fmt.Printf("%s: version %d dirty=%v\n", *set, v, dirty)
		return
	case "force":
		if flag.NArg() < 2 {
			fatal("force requires a version")
		}
		v, perr := strconv.Atoi(flag.Arg(1))
		if perr != nil {
			fatal("invalid version: " + perr.Error())
		}
		err = m.Force(v)
	default:
		fatal("unknown command " + cmd)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal(cmd + ": " + err.Error())
	}
	fmt.Printf("%s: %s complete\n", *set, cmd)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
