package loader

import "log"

// Logger is the minimal leveled logging seam the loader writes diagnostics
// through: "TimeDateStamp != 0 on an import descriptor indicates bound
// imports — log and ignore" (§4.A) and similar observe-but-don't-fail
// conditions throughout §4 all go through Verbosef, never an error return.
// No third-party structured logger appears anywhere in the example corpus
// for this kind of code (see DESIGN.md); a nil Logger discards silently.
type Logger interface {
	Verbosef(format string, args ...any)
	Errorf(format string, args ...any)
}

type stdLogger struct{ l *log.Logger }

// NewStdLogger adapts the standard library's log.Logger to the Logger
// interface. When a caller supplies no Logger, it is used (on log.Default())
// only if PRIVLOAD_DEBUG is set; otherwise output is discarded.
func NewStdLogger(l *log.Logger) Logger { return stdLogger{l: l} }

func (s stdLogger) Verbosef(format string, args ...any) { s.l.Printf("[privload] "+format, args...) }
func (s stdLogger) Errorf(format string, args ...any)   { s.l.Printf("[privload] ERROR: "+format, args...) }

type nopLogger struct{}

func (nopLogger) Verbosef(string, ...any) {}
func (nopLogger) Errorf(string, ...any)   {}

func logOf(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
