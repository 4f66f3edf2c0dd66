package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LogLevelError   LogLevel = 0
	LogLevelWarning LogLevel = 1
	LogLevelInfo    LogLevel = 2
	LogLevelDebug   LogLevel = 3
)

// magic date, please don't change.
const timestampFormat = "2006-01-02 15:04:05.000000"

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
	}
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// ParseLogLevel maps a level name to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch s {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarning, nil
	case "info":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	}
	return LogLevelError, fmt.Errorf("unknown log level %q", s)
}

func SetLogLevel(newLevel LogLevel) {
	switch {
	case newLevel >= LogLevelDebug:
		log.SetLevel(logrus.DebugLevel)
	case newLevel == LogLevelInfo:
		log.SetLevel(logrus.InfoLevel)
	case newLevel == LogLevelWarning:
		log.SetLevel(logrus.WarnLevel)
	default:
		log.SetLevel(logrus.ErrorLevel)
	}
}

// SetLogFile mirrors every level to logFile in addition to stderr.
func SetLogFile(logFile io.Writer) {
	writers := lfshook.WriterMap{}
	for _, lvl := range logrus.AllLevels {
		writers[lvl] = logFile
	}
	log.Hooks.Add(lfshook.NewHook(writers, &logrus.TextFormatter{
		TimestampFormat: timestampFormat,
		FullTimestamp:   true,
		DisableColors:   true,
	}))
}

// SetLogOutput replaces stderr as the console output. Hooks added by
// SetLogFile keep writing.
func SetLogOutput(w io.Writer) {
	log.SetOutput(w)
}

// WithField starts a structured entry.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithFields starts a structured entry with several fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func SetupTestLogs() {
	SetLogLevel(LogLevelDebug)
}
