// Package database provides connection pool management for the PostgreSQL envelope store.
package database
