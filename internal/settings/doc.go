// Package settings holds the account settings that gate the retrieval
// connection: registration, lock state, push delivery and transport overrides.
//
// Settings live in a small YAML file. The Store reloads it when it changes on
// disk (fsnotify on the parent directory, so editors that replace the file
// are handled) and notifies listeners with the old and new values.
package settings
