// Package corelog provides the runtime's structured logging facade: a
// thin, event-shaped wrapper over github.com/joeycumines/logiface backed by
// github.com/joeycumines/stumpy's JSON writer, following the same
// package-level-default-with-explicit-override shape as the teacher's
// eventloop.SetStructuredLogger (see eventloop/logging.go), but built on a
// real logging library rather than a hand-rolled one.
package corelog

import (
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger every corewake component logs through.
// It is logiface's own generic Logger instantiated for stumpy's event type,
// so callers get logiface's chained field-builder API
// (logger.Info().Str("k", v).Log("msg")) directly. logiface.LoggerFactory's
// New always hands back a *Logger[E] (see logiface/logger.go), so the alias
// is to the pointer type, not the struct.
type Logger = *logiface.Logger[*stumpy.Event]

var (
	defaultMu  sync.RWMutex
	defaultLog Logger
)

func init() {
	defaultLog = New(os.Stderr)
}

// New builds a fresh Logger writing JSON lines to w, using stumpy as the
// backend the way logiface-stumpy/example_test.go demonstrates.
func New(w io.Writer) Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			_, err := w.Write(e.Bytes())
			return err
		})),
	)
}

// SetDefault installs l as the package-wide default logger, analogous to
// the teacher's SetStructuredLogger.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defaultLog = l
	defaultMu.Unlock()
}

// Default returns the current package-wide logger.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLog
}
