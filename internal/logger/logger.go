package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger instance. It discards everything until Initialize
// runs so packages can log unconditionally, including under test.
var Log = zap.NewNop()

// Initialize sets up the structured logger with file rotation
// logLevel: "debug", "info", "warn", "error" (default: "info")
// logFile: path to log file; empty disables the file core
func Initialize(logLevel string, logFile string) error {
	if logLevel == "" {
		logLevel = "info"
	}
	level := ParseLevel(logLevel)

	// Console goes to stderr so stdout stays clean for command output
	consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level),
	}

	if logFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		})

		jsonEncoderConfig := zap.NewProductionEncoderConfig()
		jsonEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig), fileWriter, level))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	Log.Debug("Logger initialized",
		zap.String("level", logLevel),
		zap.String("file", logFile),
	)

	return nil
}

// Close flushes the logger before shutdown
func Close() error {
	if Log != nil {
		return Log.Sync()
	}
	return nil
}

// ParseLevel converts string to zapcore.Level
func ParseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field helpers shared by the loader, fetchers and server

func WithURL(url string) zap.Field {
	return zap.String("url", url)
}

func WithElementID(id string) zap.Field {
	return zap.String("element_id", id)
}

func WithTicketID(id string) zap.Field {
	return zap.String("ticket_id", id)
}

func WithStatus(status int) zap.Field {
	return zap.Int("status", status)
}

func WithDuration(d time.Duration) zap.Field {
	return zap.Duration("duration", d)
}
