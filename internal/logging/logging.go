// Package logging configures the application-wide logrus logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

func New(level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	switch level {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}
