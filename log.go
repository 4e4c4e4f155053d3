package sigtrace

import (
	"github.com/rs/zerolog"
)

// logger is disabled unless the host opts in through SetLogger; the
// library never writes to stderr on its own.
var logger = zerolog.Nop()

// SetLogger directs the library's diagnostics to the given logger.
// Capture-path messages are emitted from the handler goroutines, never
// from inside a kernel signal frame, so any zerolog writer is safe.
func SetLogger(l zerolog.Logger) {
	logger = l
}
