package util

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(textFormatter())
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// Configure sets the level ("debug", "info", ...) and format ("text" or
// "json") of the global logger.
func Configure(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	switch format {
	case "", "text":
		Logger.SetFormatter(textFormatter())
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// WithField returns a logger with a field
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns a logger with multiple fields
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithError returns a logger carrying err.
func WithError(err error) *logrus.Entry {
	return Logger.WithError(err)
}

// WithObject returns a logger scoped to one hardware object
func WithObject(objectType, key string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"object_type": objectType,
		"key":         key,
	})
}

// WithNeighbor returns a logger scoped to a software neighbor entry
func WithNeighbor(intf uint32, ip string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"intf": intf,
		"ip":   ip,
	})
}

// WithOperation returns a logger scoped to one agent operation (apply,
// warmboot, l2-learning).
func WithOperation(operation string) *logrus.Entry {
	return Logger.WithField("operation", operation)
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

// Panicf logs a broken invariant and panics. The agent cannot continue with
// hardware and software state out of step.
func Panicf(format string, args ...interface{}) {
	Logger.Panicf(format, args...)
}
