// Package logging builds the logrus logger shared by the liverseg commands.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout. Verbose mode switches to debug
// level with human readable text output, otherwise JSON at info level.
func New(verbose bool) *logrus.Logger {
	return NewWithOutput(os.Stdout, verbose)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(w io.Writer, verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}

// Discard returns a logger that drops everything. Used by tests and by
// library callers that do not care about progress output.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
