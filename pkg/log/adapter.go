package log

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogger routes badger's internal logging through logrus.
// Badger's info lines are logged at debug, and its debug lines at trace.
type BadgerLogger struct {
	entry *logrus.Entry
}

// NewBadgerLogger wraps entry; it satisfies badger.Logger
func NewBadgerLogger(entry *logrus.Entry) *BadgerLogger {
	return &BadgerLogger{entry: entry}
}

func (l *BadgerLogger) Errorf(f string, v ...interface{}) {
	l.entry.Errorf(strings.TrimRight(f, "\n"), v...)
}

func (l *BadgerLogger) Warningf(f string, v ...interface{}) {
	l.entry.Warnf(strings.TrimRight(f, "\n"), v...)
}

func (l *BadgerLogger) Infof(f string, v ...interface{}) {
	l.entry.Debugf(strings.TrimRight(f, "\n"), v...)
}

func (l *BadgerLogger) Debugf(f string, v ...interface{}) {
	l.entry.Tracef(strings.TrimRight(f, "\n"), v...)
}
