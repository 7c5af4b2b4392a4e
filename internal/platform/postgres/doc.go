// Package postgres provides the PostgreSQL-backed task state store, its
// embedded goose migrations, and the mapping from database errors onto the
// error taxonomy in internal/store.
package postgres
