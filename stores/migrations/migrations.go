// Package migrations embeds the postgres schema of the pins table.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
