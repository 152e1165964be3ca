package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// DiagnosticComponent tags every record written to the sink's diagnostic
// channel. Hooks that forward logrus records into the sink skip records
// carrying it.
const DiagnosticComponent = "dbtrace.sink"

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the global logger
func InitLogger(level, format, output, file string) error {
	Logger = logrus.New()

	// Set log level
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(logLevel)

	Logger.SetFormatter(newFormatter(format))

	// Set output
	if output == "file" && file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		Logger.SetOutput(f)
	} else {
		Logger.SetOutput(os.Stdout)
	}

	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		// Initialize with defaults if not already initialized
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}

// NewDiagnosticLogger builds the logger used for the sink's own failures.
// It is a separate instance from the global logger so that hooks installed
// on the host logger never see diagnostic records.
func NewDiagnosticLogger(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	l.SetFormatter(newFormatter(format))
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)
	return l
}

func newFormatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	}
}
