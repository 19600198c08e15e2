package monitoring

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debug atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables Debugf output.
func SetDebug(on bool) { debug.Store(on) }

// Debugf logs through Logf only when debug output is enabled.
// The optimizer's per-budget argv and raw output go here.
func Debugf(format string, v ...interface{}) {
	if debug.Load() {
		Logf(format, v...)
	}
}

// RunLogf returns a logger that prefixes every line with the run token,
// so interleaved sweeps from concurrent requests can be told apart.
func RunLogf(token string) func(format string, v ...interface{}) {
	prefix := fmt.Sprintf("[%s] ", token)
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
