// Package logging provides the process-wide zap logger. Components ask
// for named children (router, pipeline, llm, server) so log lines stay
// attributable without every constructor threading a logger through.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root *zap.Logger = zap.NewNop()
)

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// JSON switches from console encoding to structured JSON output.
	JSON bool
}

// Init builds the process logger. Called once from main; calling it
// again replaces the root (tests use this to install observers).
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	cfg := zap.NewDevelopmentConfig()
	if opts.JSON {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// Replace swaps the root logger. Intended for tests.
func Replace(l *zap.Logger) {
	mu.Lock()
	root = l
	mu.Unlock()
}

// Named returns a child logger for the given component.
func Named(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(component)
}

// Sync flushes buffered log entries. Safe to call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
