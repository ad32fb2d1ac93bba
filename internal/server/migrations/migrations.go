// Package migrations embeds the goose SQL migrations for the upload store.
package migrations

import "embed"

// Migrations holds the *.sql files applied by repomanager.RunMigrations.
//
//go:embed *.sql
var Migrations embed.FS
