// Package store is the bot's SQLite database.
//
// It archives every submission and comment the feeders deliver, and keeps
// the calls plugins schedule for later so they survive a restart. Archive
// inserts ignore duplicates, so items re-delivered after a restart are
// stored once. Times are Unix milliseconds in UTC.
//
// The database runs in WAL mode with a single connection and a five second
// busy timeout. Schema changes go through the migrations list, tracked in
// PRAGMA user_version.
package store
