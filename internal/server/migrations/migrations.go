// Package migrations embeds the SQL schema of the audit database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
