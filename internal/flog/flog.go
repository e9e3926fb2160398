// Package flog is the broker's structured logging helper, built on
// github.com/sirupsen/logrus. Each call takes the subject it's logging
// about (a backend, a job, a mount), or nil for a subjectless line.
package flog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Describable is anything that can identify itself in a log line — a
// backend, a job variant, a mount ref.
type Describable interface {
	LogString() string
}

// entry is the logger used process-wide; SetLevel acts on it.
var entry = logrus.StandardLogger()

// SetLevel adjusts the minimum level emitted, e.g. from a config file
// or the --log-level CLI flag.
func SetLevel(level logrus.Level) {
	entry.SetLevel(level)
}

func line(subject Describable, format string, args []any) string {
	msg := fmt.Sprintf(format, args...)
	if subject == nil {
		return msg
	}
	return subject.LogString() + ": " + msg
}

// Debugf logs at debug level, about subject (nil for a subjectless
// line).
func Debugf(subject Describable, format string, args ...any) {
	entry.Debug(line(subject, format, args))
}

// Infof logs at info level, about subject.
func Infof(subject Describable, format string, args ...any) {
	entry.Info(line(subject, format, args))
}

// Logf is an alias for Infof for call sites that don't distinguish
// info from "normal operation" logging.
func Logf(subject Describable, format string, args ...any) {
	Infof(subject, format, args...)
}

// Errorf logs at error level, about subject.
func Errorf(subject Describable, format string, args ...any) {
	entry.Error(line(subject, format, args))
}
