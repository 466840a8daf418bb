// Package logger provides the structured logger shared by every pipeline
// stage. It wraps zap but keeps the phase-banner vocabulary the rest of the
// codebase expects: SetPhase, StartTask/CompleteTask/FailTask.
package logger

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a phase-aware wrapper around a zap.Logger.
type Logger struct {
	z *zap.Logger

	mu           sync.Mutex
	currentPhase string
	taskStart    map[string]time.Time
}

// New builds a Logger. debug=true switches to zap's development config
// (console encoding, debug level); otherwise production JSON logging.
func New(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{z: z, taskStart: make(map[string]time.Time)}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{z: zap.NewNop(), taskStart: make(map[string]time.Time)}
}

// SetPhase announces a new pipeline phase (e.g. "SQLGen", "Execute").
func (l *Logger) SetPhase(phase string) {
	l.mu.Lock()
	l.currentPhase = phase
	l.mu.Unlock()
	l.z.Info("phase started", zap.String("phase", phase))
}

func (l *Logger) phase() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentPhase
}

// StartTask marks the start of a named unit of work within the current phase.
func (l *Logger) StartTask(name string) {
	l.mu.Lock()
	l.taskStart[name] = time.Now()
	l.mu.Unlock()
	l.z.Debug("task started", zap.String("phase", l.phase()), zap.String("task", name))
}

// CompleteTask marks a task as completed, logging its duration.
func (l *Logger) CompleteTask(name string, fields ...zap.Field) {
	l.mu.Lock()
	start, ok := l.taskStart[name]
	delete(l.taskStart, name)
	l.mu.Unlock()

	if !ok {
		start = time.Now()
	}
	all := append([]zap.Field{zap.String("phase", l.phase()), zap.String("task", name), zap.Duration("took", time.Since(start))}, fields...)
	l.z.Info("task completed", all...)
}

// FailTask marks a task as failed.
func (l *Logger) FailTask(name string, err error) {
	l.mu.Lock()
	start, ok := l.taskStart[name]
	delete(l.taskStart, name)
	l.mu.Unlock()

	var took time.Duration
	if ok {
		took = time.Since(start)
	}
	l.z.Warn("task failed", zap.String("phase", l.phase()), zap.String("task", name), zap.Duration("took", took), zap.Error(err))
}

// Info logs an informational event tagged with the current phase.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.z.Info(msg, append([]zap.Field{zap.String("phase", l.phase())}, fields...)...)
}

// Warn logs a warning event tagged with the current phase.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.z.Warn(msg, append([]zap.Field{zap.String("phase", l.phase())}, fields...)...)
}

// Error logs an error event tagged with the current phase.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.z.Error(msg, append([]zap.Field{zap.String("phase", l.phase())}, fields...)...)
}

// Sync flushes any buffered log entries. Call before process exit.
func (l *Logger) Sync() error {
	return l.z.Sync()
}
