//go:build sqlite_vec && cgo

package index

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension with the mattn/go-sqlite3 driver so
	// the cosine scan runs inside sqlite instead of in Go.
	vec.Auto()
}
