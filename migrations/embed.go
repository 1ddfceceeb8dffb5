// Package migrations embeds the SQL migrations so the binary can run them without a checkout.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
