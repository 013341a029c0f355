package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger тонкая обертка над zerolog с printf-методами
type Logger struct {
	zl zerolog.Logger
}

var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger("info")
}

func parseLevel(levelStr string) zerolog.Level {
	switch levelStr {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger создает JSON логгер в stdout
func NewLogger(levelStr string) *Logger {
	return NewLoggerWithWriter(levelStr, os.Stdout)
}

// NewConsoleLogger человекочитаемый вывод для CLI
func NewConsoleLogger(levelStr string) *Logger {
	return NewLoggerWithWriter(levelStr, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

func NewLoggerWithWriter(levelStr string, w io.Writer) *Logger {
	zl := zerolog.New(w).Level(parseLevel(levelStr)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// NopLogger для тестов
func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With возвращает дочерний логгер с дополнительным полем
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// Zerolog для структурных событий
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.zl.Error().Msgf(format, v...)
}

// Default возвращает глобальный логгер
func Default() *Logger {
	return defaultLogger
}

// SetDefault заменяет глобальный логгер
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}
