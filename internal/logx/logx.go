// Package logx provides the bot's single shared logger.
package logx

import (
	"log"
	"os"
	"strings"
	"sync"
)

type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
)

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return Debug
	case "WARNING", "WARN":
		return Warning
	case "ERROR":
		return Error
	default:
		return Info
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

var (
	logger   *log.Logger
	minLevel = Info
	once     sync.Once
)

// Init opens the log file and sets the minimum level that Printf/Logf emit.
// Safe to call more than once; only the first call takes effect.
func Init(path string, level Level) {
	once.Do(func() {
		if path == "" {
			path = "crtbot.log"
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		logger = log.New(file, "crtbot: ", log.LstdFlags)
		minLevel = level
	})
}

// Get returns the shared logger, initializing it with defaults if Init was
// never called.
func Get() *log.Logger {
	once.Do(func() {
		logger = log.New(os.Stderr, "crtbot: ", log.LstdFlags)
		minLevel = Info
	})
	return logger
}

// Printf logs at Info level, gated by the configured minimum level.
func Printf(format string, args ...any) {
	Logf(Info, format, args...)
}

// Logf logs at the given level if it meets the configured minimum.
func Logf(level Level, format string, args ...any) {
	if level < minLevel {
		return
	}
	Get().Printf("[%s] "+format, append([]any{level.String()}, args...)...)
}

// Component returns a logger-prefix helper for a named component, matching
// the "Component | [symbol strategy] message" convention used throughout
// the pipeline and monitor packages.
func Component(name string) func(format string, args ...any) {
	return func(format string, args ...any) {
		Logf(Info, name+" | "+format, args...)
	}
}
