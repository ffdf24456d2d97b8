package remote

import (
	"io"
	"log"
	"log/slog"

	hclog "github.com/hashicorp/go-hclog"
)

// slogAdapter threads the caller's *slog.Logger through raft's hclog.Logger
// interface, the one call site in this package that needs it, rather than
// adopting hclog as a second logging library throughout.
type slogAdapter struct {
	logger *slog.Logger
	name   string
}

var _ hclog.Logger = (*slogAdapter)(nil)

func newSlogAdapter(logger *slog.Logger, name string) *slogAdapter {
	return &slogAdapter{logger: logger, name: name}
}

func (a *slogAdapter) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		a.logger.Debug(msg, args...)
	case hclog.Warn:
		a.logger.Warn(msg, args...)
	case hclog.Error:
		a.logger.Error(msg, args...)
	default:
		a.logger.Info(msg, args...)
	}
}

func (a *slogAdapter) Trace(msg string, args ...any) { a.Log(hclog.Trace, msg, args...) }
func (a *slogAdapter) Debug(msg string, args ...any) { a.Log(hclog.Debug, msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.Log(hclog.Info, msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.Log(hclog.Warn, msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.Log(hclog.Error, msg, args...) }

func (a *slogAdapter) IsTrace() bool { return true }
func (a *slogAdapter) IsDebug() bool { return true }
func (a *slogAdapter) IsInfo() bool  { return true }
func (a *slogAdapter) IsWarn() bool  { return true }
func (a *slogAdapter) IsError() bool { return true }

func (a *slogAdapter) ImpliedArgs() []any { return nil }

func (a *slogAdapter) With(args ...any) hclog.Logger {
	return newSlogAdapter(a.logger.With(args...), a.name)
}

func (a *slogAdapter) Name() string { return a.name }

func (a *slogAdapter) Named(name string) hclog.Logger {
	return newSlogAdapter(a.logger.With("subsystem", name), name)
}

func (a *slogAdapter) ResetNamed(name string) hclog.Logger {
	return newSlogAdapter(a.logger, name)
}

func (a *slogAdapter) SetLevel(hclog.Level) {}
func (a *slogAdapter) GetLevel() hclog.Level { return hclog.Info }

func (a *slogAdapter) StandardLogger(*hclog.StandardLoggerOpts) *log.Logger {
	return log.New(io.Discard, "", 0)
}

func (a *slogAdapter) StandardWriter(*hclog.StandardLoggerOpts) io.Writer {
	return io.Discard
}
