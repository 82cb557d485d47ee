// Package store holds the persistence plumbing shared by the SQL job stores:
// the DBTX abstraction over *sql.DB and *sql.Tx, transaction helpers, and the
// generic error values that driver specific errors are mapped onto.
package store
