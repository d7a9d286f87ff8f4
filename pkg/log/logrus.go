package log

import "github.com/sirupsen/logrus"

// NewLogrus wraps a logrus.FieldLogger so it satisfies Logger.
func NewLogrus(l logrus.FieldLogger) Logger {
	return logrusLogger{l}
}

type logrusLogger struct {
	logrus.FieldLogger
}

// Default returns a Logger backed by a logrus logger configured with sane defaults for
// this module: JSON-free text output, timestamps, info level.
func Default() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return NewLogrus(l)
}
