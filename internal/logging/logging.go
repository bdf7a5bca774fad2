// Package logging implements the line-oriented logging sink the core
// calls into at INFO/WARN/ERROR/DEBUG severities. It is one of the
// external collaborators the core specifies only by interface; this is
// the concrete implementation the CLI wires up, backed by zap the same
// way the rest of the reference pack does.
package logging

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is the line-oriented logging collaborator the server core logs
// through. Each method accepts a printf-style template plus arguments,
// mirroring the macro-based logger the core's ancestry was built around.
type Sink interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Sync() error
}

// Level mirrors the CLI's numeric log-level surface: 0 disables
// everything below error, up to 3 which enables debug.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

type zapSink struct {
	l *zap.SugaredLogger
}

// NewZapSink builds a Sink around a zap.Logger. When fd is a terminal
// (detected via go-isatty), the encoder emits colorized level names;
// otherwise it falls back to a plain encoder suitable for log files. The
// queueSize parameter sizes the sink's buffering channel — writes past
// that depth block the caller, which keeps a logging backlog from
// growing without bound under a slow sink.
func NewZapSink(fd uintptr, level Level, queueSize int) (Sink, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapLevel := toZapLevel(level)
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		newQueuedSink(queueSize),
		zapLevel,
	)

	logger := zap.New(core)
	return &zapSink{l: logger.Sugar()}, nil
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func (s *zapSink) Debugf(template string, args ...any) { s.l.Debugf(template, args...) }
func (s *zapSink) Infof(template string, args ...any)  { s.l.Infof(template, args...) }
func (s *zapSink) Warnf(template string, args ...any)  { s.l.Warnf(template, args...) }
func (s *zapSink) Errorf(template string, args ...any) { s.l.Errorf(template, args...) }
func (s *zapSink) Sync() error                         { return s.l.Sync() }

// queuedSink buffers encoded log lines through a bounded channel drained
// by one writer goroutine, the Go-idiomatic stand-in for the CLI's
// "log queue size" knob (an async logging queue in the original).
type queuedSink struct {
	lines chan []byte
}

func newQueuedSink(queueSize int) zapcore.WriteSyncer {
	if queueSize <= 0 {
		queueSize = 1024
	}
	q := &queuedSink{lines: make(chan []byte, queueSize)}
	go q.drain()
	return q
}

func (q *queuedSink) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	q.lines <- line
	return len(p), nil
}

func (q *queuedSink) Sync() error {
	deadline := time.After(time.Second)
	for len(q.lines) > 0 {
		select {
		case <-deadline:
			return nil
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (q *queuedSink) drain() {
	for line := range q.lines {
		os.Stderr.Write(line)
	}
}
