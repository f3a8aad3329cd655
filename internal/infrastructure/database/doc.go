// Package database opens the SQLite file behind the sqlite storage driver
// and applies the embedded schema migrations to it.
package database
