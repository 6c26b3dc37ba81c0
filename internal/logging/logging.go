// Package logging sets up the logrus logger shared by every subsystem.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the root logger for the process. Each subsystem derives a
// scoped entry from it with WithField("subsystem", ...) rather than
// constructing its own logger.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// For returns a scoped entry for a named subsystem.
func For(log *logrus.Logger, subsystem string) *logrus.Entry {
	return log.WithField("subsystem", subsystem)
}
