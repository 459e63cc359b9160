// Package database provides the PostgreSQL connection pool for the
// notifier's local notification store.
//
// The store holds a single table, notifications, written append-style
// by the batch writer. Reads happen elsewhere (the Rosterly API serves
// the web clients); the notifier only inserts.
package database
