// Package flash provides registry.Store implementations: an in-memory store
// for tests, a checksummed image file, and a SQLite-backed store.
package flash
