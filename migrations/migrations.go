// Package migrations embeds the SQL migrations of each service database.
package migrations

import "embed"

//go:embed schedule/*.sql booking/*.sql
var FS embed.FS

// Sets lists the migration directories inside FS, one per service database.
var Sets = []string{"schedule", "booking"}
