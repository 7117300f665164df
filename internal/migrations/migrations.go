// Package migrations embeds the schema migrations in golang-migrate layout.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
