package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger prefixes every line with a connection id, e.g. "[3f2a9c01] read failed".
type Logger struct {
	tag string
}

// For returns a Logger scoped to the given connection id.
func For(id string) Logger {
	return Logger{tag: "[" + id + "] "}
}

func (l Logger) Debug(format string, args ...interface{})   { LogDebug(l.tag+format, args...) }
func (l Logger) Info(format string, args ...interface{})    { LogInfo(l.tag+format, args...) }
func (l Logger) Warning(format string, args ...interface{}) { LogWarning(l.tag+format, args...) }
func (l Logger) Error(format string, args ...interface{})   { LogError(l.tag+format, args...) }
