package raftcoord

import (
	"context"
	"io"
	"log"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// hclogBridge adapts the node's slog logger to the hclog.Logger interface
// raft wants, so raft's internal lines carry the same handler, level, and
// tags as the rest of the system.
type hclogBridge struct {
	logger *slog.Logger
	name   string
	args   []interface{}
}

var _ hclog.Logger = (*hclogBridge)(nil)

func newHCLogBridge(logger *slog.Logger) hclog.Logger {
	return &hclogBridge{logger: logger}
}

func slogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace, hclog.Debug:
		return slog.LevelDebug
	case hclog.NoLevel, hclog.Info:
		return slog.LevelInfo
	case hclog.Warn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func (b *hclogBridge) Log(level hclog.Level, msg string, args ...interface{}) {
	if level == hclog.Off {
		return
	}
	b.logger.Log(context.Background(), slogLevel(level), msg, args...)
}

func (b *hclogBridge) Trace(msg string, args ...interface{}) { b.Log(hclog.Trace, msg, args...) }
func (b *hclogBridge) Debug(msg string, args ...interface{}) { b.Log(hclog.Debug, msg, args...) }
func (b *hclogBridge) Info(msg string, args ...interface{})  { b.Log(hclog.Info, msg, args...) }
func (b *hclogBridge) Warn(msg string, args ...interface{})  { b.Log(hclog.Warn, msg, args...) }
func (b *hclogBridge) Error(msg string, args ...interface{}) { b.Log(hclog.Error, msg, args...) }

func (b *hclogBridge) enabled(level hclog.Level) bool {
	return b.logger.Enabled(context.Background(), slogLevel(level))
}

func (b *hclogBridge) IsTrace() bool { return b.enabled(hclog.Trace) }
func (b *hclogBridge) IsDebug() bool { return b.enabled(hclog.Debug) }
func (b *hclogBridge) IsInfo() bool  { return b.enabled(hclog.Info) }
func (b *hclogBridge) IsWarn() bool  { return b.enabled(hclog.Warn) }
func (b *hclogBridge) IsError() bool { return b.enabled(hclog.Error) }

func (b *hclogBridge) ImpliedArgs() []interface{} { return b.args }

func (b *hclogBridge) With(args ...interface{}) hclog.Logger {
	return &hclogBridge{
		logger: b.logger.With(args...),
		name:   b.name,
		args:   append(append([]interface{}{}, b.args...), args...),
	}
}

func (b *hclogBridge) Name() string { return b.name }

func (b *hclogBridge) Named(name string) hclog.Logger {
	full := name
	if b.name != "" {
		full = b.name + "." + name
	}
	return b.ResetNamed(full)
}

func (b *hclogBridge) ResetNamed(name string) hclog.Logger {
	return &hclogBridge{
		logger: b.logger.With("subsystem", name),
		name:   name,
		args:   b.args,
	}
}

// SetLevel is a no-op: the level belongs to the slog handler.
func (b *hclogBridge) SetLevel(hclog.Level) {}

func (b *hclogBridge) GetLevel() hclog.Level {
	switch {
	case b.enabled(hclog.Debug):
		return hclog.Debug
	case b.enabled(hclog.Info):
		return hclog.Info
	case b.enabled(hclog.Warn):
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (b *hclogBridge) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(b.StandardWriter(opts), "", 0)
}

func (b *hclogBridge) StandardWriter(*hclog.StandardLoggerOptions) io.Writer {
	return &bridgeWriter{logger: b.logger}
}

// bridgeWriter feeds raw writer-style lines into the slog logger.
type bridgeWriter struct {
	logger *slog.Logger
}

func (w *bridgeWriter) Write(p []byte) (int, error) {
	msg := string(p)
	if n := len(msg); n > 0 && msg[n-1] == '\n' {
		msg = msg[:n-1]
	}
	w.logger.Info(msg)
	return len(p), nil
}
