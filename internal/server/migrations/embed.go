// Package migrations embeds the goose SQL migrations of the record store.
// The statements are kept to the subset PostgreSQL and SQLite share.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
