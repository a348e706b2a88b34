// Package recordstore persists what the relay knows about the certificates it
// submitted: the registry fields, the registering transaction and the
// document stored alongside.
//
// Three implementations share the interfaces.RecordStore contract: Memory,
// SQLite (modernc.org/sqlite, embedded migrations) and Postgres (lib/pq).
package recordstore

import (
	"context"
	"strings"

	"github.com/ruteri/certificate-registry/interfaces"
)

// Open selects a record store from dsn:
//
//	memory://                     in-memory store
//	postgres://... postgresql://  PostgreSQL
//	sqlite:///path/records.db     SQLite file (the sqlite:// prefix is optional)
func Open(ctx context.Context, dsn string) (interfaces.RecordStore, error) {
	switch {
	case dsn == "" || strings.HasPrefix(dsn, "memory://"):
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
}

var (
	_ interfaces.RecordStore = (*Memory)(nil)
	_ interfaces.RecordStore = (*SQLite)(nil)
	_ interfaces.RecordStore = (*Postgres)(nil)
)
