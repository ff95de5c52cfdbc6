// Package logging provides categorized structured logging for decisiond.
// Every subsystem logs through a named child of one shared zap logger so that
// output can be filtered per category. Before Init is called all loggers are
// no-ops, which keeps library code free of nil checks.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryEngine    Category = "engine"    // decision-cycle state machine
	CategoryAgents    Category = "agents"    // agent registry and specialized agents
	CategoryArbiter   Category = "arbiter"   // safety arbiter and policy reloads
	CategorySelector  Category = "selector"  // action selection and fallback
	CategorySolver    Category = "solver"    // external solver client
	CategoryAudit     Category = "audit"     // audit trail appends and verification
	CategoryTelemetry Category = "telemetry" // metrics sink
	CategoryConfig    Category = "config"    // configuration loading
	CategoryCLI       Category = "cli"       // command-line entry points
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug/info/warn/error. Empty means info.
	Level string
	// JSON switches from console encoding to JSON lines.
	JSON bool
	// Development enables caller annotation and DPanic behavior.
	Development bool
}

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the shared base logger. Safe to call once at process start;
// subsequent calls replace the base (used by tests).
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.JSON {
		zc.Encoding = "json"
	} else {
		zc.Encoding = "console"
	}

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	mu.Lock()
	base = logger
	mu.Unlock()
	return nil
}

// SetBase replaces the shared logger directly. Tests use this with zaptest.
func SetBase(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		base = zap.NewNop()
		return
	}
	base = l
}

// L returns the named logger for a category.
func L(cat Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(string(cat))
}

// S returns the sugared logger for a category.
func S(cat Category) *zap.SugaredLogger {
	return L(cat).Sugar()
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
