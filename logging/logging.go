// Package logging adapts structured slog output to the small Logger
// contract the database layer expects (grounded on database/logger.go's
// Print/Printf/Println shape), so storage and sync components can log
// through one interface regardless of destination.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Logger is the contract the statusstore/replay/syncengine packages
// log through.
type Logger interface {
	Print(v ...any)
	Printf(format string, v ...any)
	Println(v ...any)
}

// SlogLogger adapts a *slog.Logger to the Logger contract, at a fixed
// level, and tags the record with a component name.
type SlogLogger struct {
	logger    *slog.Logger
	component string
	level     slog.Level
}

func New(component string) *SlogLogger {
	return &SlogLogger{
		logger:    slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		component: component,
		level:     slog.LevelInfo,
	}
}

func (l *SlogLogger) WithLevel(level slog.Level) *SlogLogger {
	return &SlogLogger{logger: l.logger, component: l.component, level: level}
}

func (l *SlogLogger) Print(v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprint(v...), "component", l.component)
}

func (l *SlogLogger) Printf(format string, v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprintf(format, v...), "component", l.component)
}

func (l *SlogLogger) Println(v ...any) {
	l.logger.Log(context.Background(), l.level, fmt.Sprintln(v...), "component", l.component)
}

// NullLogger discards everything, used in tests that don't care about
// log output (mirrors database.NullLogger).
type NullLogger struct{}

func (NullLogger) Print(v ...any)                 {}
func (NullLogger) Printf(format string, v ...any) {}
func (NullLogger) Println(v ...any)               {}
