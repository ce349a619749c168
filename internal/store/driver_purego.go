//go:build purego

package store

// Pure-Go fallback driver, selected with `-tags purego` when cgo is
// unavailable (e.g. cross-compiling without a C toolchain).
import (
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"
