package util

import (
	"runtime/debug"

	"github.com/bondings/bondings/internal/logging"
)

// Recover logs and swallows a panic. It must be deferred directly:
//
//	defer util.Recover("ledger-subscriber")
func Recover(name string) {
	if r := recover(); r != nil {
		logging.Error("panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

// SafeGo runs fn in a goroutine that cannot take the daemon down.
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}
