//go:build !purego

package store

// The cgo mattn/go-sqlite3 driver is the primary build. The pure-Go
// modernc.org/sqlite driver (driver_purego.go) is selected instead with
// `-tags purego`, for environments where cgo is unavailable.
import (
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"
