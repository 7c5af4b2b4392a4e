// Package store holds the persistence plumbing shared by the SQL-backed task
// state store: the DBTX abstraction over *sql.DB and *sql.Tx, transaction
// helpers, and the error taxonomy that database errors are mapped onto.
package store
