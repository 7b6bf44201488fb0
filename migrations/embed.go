// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// FS holds the migration files applied by internal/migrate.
//
//go:embed *.sql
var FS embed.FS
