package migrations

import "embed"

// FS contains the embedded SQLite migrations for the certificate record store.
//
//go:embed *.sql
var FS embed.FS
