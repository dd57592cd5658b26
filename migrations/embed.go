// Package migrations holds the SQL files applied by "axreg-sync migrate".
package migrations

import "embed"

// FS contains every numbered *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
