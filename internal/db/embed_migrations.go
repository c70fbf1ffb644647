package db

import "embed"

// MigrationFS carries the SQL files under internal/db/migrations inside the
// binary so cmd/migrate and MIGRATE_ON_START can run without the source tree
// on disk.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
