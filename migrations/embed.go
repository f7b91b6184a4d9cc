// Package migrations embeds the botfleet schema, applied by golang-migrate when the
// database is opened.
package migrations

import "embed"

// FS holds the numbered up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
