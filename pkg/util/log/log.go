package logutils

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
)

const callerStackDepth = 6

// Set configures the global logrus logger (level, format and optional log file).
// When logFile is non-empty, log output is appended to that file and the
// returned handle must be closed by the caller.
func Set(logLevel, logFile string) (*os.File, error) {
	var f *os.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory: %w", err)
		}

		var err error
		f, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		logrus.SetOutput(f)
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level '%s': %w", logLevel, err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&formatter{
		TextFormatter: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
			DisableQuote:    true,
		},
	})
	return f, nil
}

type formatter struct {
	*logrus.TextFormatter
}

// Format annotates error-level entries with the emitting file and line.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	if entry.Level <= logrus.ErrorLevel {
		_, file, line, ok := runtime.Caller(callerStackDepth)
		if ok {
			entry.Data["file"] = filepath.Base(file)
			entry.Data["line"] = fmt.Sprintf("%d", line)
		}
	}

	return f.TextFormatter.Format(entry)
}
