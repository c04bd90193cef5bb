// Package logging provides levelled logging for the reader subsystems.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return "info"
	}
}

var (
	mu           sync.Mutex
	minLevel     = LevelInfo
	colorEnabled = true
	sink         *os.File
)

// SetLevel sets the minimum level that is emitted.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// EnableColor enables colored stderr output.
func EnableColor(enable bool) {
	mu.Lock()
	defer mu.Unlock()
	colorEnabled = enable
	color.NoColor = !enable
}

// SetFile opens path and mirrors every emitted record to it as JSON lines.
func SetFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
	}
	sink = f
	return nil
}

// CloseFile closes the JSON sink if one is open.
func CloseFile() {
	mu.Lock()
	defer mu.Unlock()
	if sink != nil {
		sink.Close()
		sink = nil
	}
}

type record struct {
	Time      string `json:"time"`
	Level     string `json:"level"`
	Subsystem string `json:"subsystem"`
	Message   string `json:"message"`
}

func emit(level Level, subsystem, message string) {
	mu.Lock()
	defer mu.Unlock()
	if level < minLevel {
		return
	}

	prefix := fmt.Sprintf("[%s]", subsystem)
	if colorEnabled {
		switch level {
		case LevelDebug:
			prefix = color.YellowString("[%s]", subsystem)
		case LevelInfo:
			prefix = color.BlueString("[%s]", subsystem)
		case LevelWarn:
			prefix = color.MagentaString("[%s]", subsystem)
		case LevelError, LevelFatal:
			prefix = color.RedString("[%s]", subsystem)
		}
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", prefix, message)

	if sink != nil {
		line, err := json.Marshal(record{
			Time:      time.Now().UTC().Format(time.RFC3339Nano),
			Level:     level.String(),
			Subsystem: subsystem,
			Message:   message,
		})
		if err == nil {
			sink.Write(append(line, '\n'))
		}
	}
}

// Debugf logs debug information for a subsystem.
func Debugf(subsystem, format string, args ...interface{}) {
	emit(LevelDebug, subsystem, fmt.Sprintf(format, args...))
}

// Infof logs information for a subsystem.
func Infof(subsystem, format string, args ...interface{}) {
	emit(LevelInfo, subsystem, fmt.Sprintf(format, args...))
}

// Warnf logs a warning for a subsystem.
func Warnf(subsystem, format string, args ...interface{}) {
	emit(LevelWarn, subsystem, fmt.Sprintf(format, args...))
}

// Errorf logs an error for a subsystem.
func Errorf(subsystem string, err error) {
	emit(LevelError, subsystem, fmt.Sprintf("Error: %v", err))
}

// TimedOperation executes a function and logs the time it took.
func TimedOperation(subsystem, operation string, fn func() error) error {
	Debugf(subsystem, "Starting %s", operation)

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if err != nil {
		Errorf(subsystem, fmt.Errorf("%s: %w (took %s)", operation, err, elapsed))
		return err
	}

	Debugf(subsystem, "Completed %s in %s", operation, elapsed)
	return nil
}
