package corewake

import "github.com/corewake/corewake/internal/corelog"

// Logger is the structured logger type every corewake component accepts and
// logs through: corelog.Logger re-exported at the package root so callers
// never need to import internal/corelog directly, mirroring the teacher's
// own package-level Logger interface (eventloop/logging.go) backed here by
// github.com/joeycumines/logiface + github.com/joeycumines/stumpy instead of
// a hand-rolled implementation.
type Logger = corelog.Logger

// SetLogger installs l as the package-wide default logger used by any
// Runtime built without an explicit WithLogger option, analogous to the
// teacher's SetStructuredLogger.
func SetLogger(l Logger) {
	corelog.SetDefault(l)
}

func defaultLogger() Logger {
	return corelog.Default()
}
