package upload

// Logger is the adapter interface the engine uses for logging. It accepts
// simple key/value variadic pairs to keep call sites concise and to decouple
// from any particular structured-logging field type.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// coreLogger is the minimal interface expected from
// github.com/gostratum/core/logx implementations, allowing callers to wrap
// a core logger without this package importing concrete types from it.
type coreLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// WrapCoreLogger adapts a github.com/gostratum/core/logx logger into the
// engine's Logger interface.
func WrapCoreLogger(l coreLogger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return &coreLoggerAdapter{l}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return &nopLogger{} }

type coreLoggerAdapter struct{ l coreLogger }

func (a *coreLoggerAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *coreLoggerAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *coreLoggerAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *coreLoggerAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

type nopLogger struct{}

func (n *nopLogger) Debug(_ string, _ ...any) {}
func (n *nopLogger) Info(_ string, _ ...any)  {}
func (n *nopLogger) Warn(_ string, _ ...any)  {}
func (n *nopLogger) Error(_ string, _ ...any) {}
