// Package db embeds the SQL migrations applied by store.Migrate.
package db

import "embed"

// Migrations holds migrations/NNNN_name.up.sql and the matching down files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
