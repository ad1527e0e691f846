// Package storage keeps the status document: a small JSON object of
// counters and flags describing this process, which is published to Redis
// and served over HTTP.
package storage

import "github.com/tidwall/gjson"

type Store interface {
	// Set stores value at path, a dot separated sjson path
	Set(path string, value interface{}) error
	Get(path string) gjson.Result
	Delete(path string) error

	// ForEach calls fn for every top level field until it returns false
	ForEach(fn func(key string, value gjson.Result) bool)

	// Snapshot returns a copy of the whole document
	Snapshot() []byte
}
