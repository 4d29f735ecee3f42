// Package logging builds the logrus entries shared by lego packages.
package logging

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// New returns a logger writing to out at the named level. Level names follow
// the settings file: notset, debug, info, warn, error and critical. At debug
// and below every line carries its level and calling function; otherwise only
// the message is printed.
func New(level string, out io.Writer) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(out)

	lvl := ParseLevel(level)
	log.SetLevel(lvl)

	if lvl >= logrus.DebugLevel {
		log.SetReportCaller(true)
		log.Formatter = &logrus.TextFormatter{
			FullTimestamp:    true,
			DisableColors:    true,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				fn := f.Function
				if i := strings.LastIndex(fn, "/"); i >= 0 {
					fn = fn[i+1:]
				}
				return fn, fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		}
	} else {
		log.Formatter = &messageFormatter{}
	}

	return logrus.NewEntry(log)
}

// ParseLevel maps a settings level name to a logrus level. Unknown names
// fall back to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "notset", "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "critical":
		return logrus.FatalLevel
	}
	if lvl, err := logrus.ParseLevel(level); err == nil {
		return lvl
	}
	return logrus.InfoLevel
}

// Discard returns an entry that drops everything.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	log.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(log)
}

// OrDiscard returns log, or a discarding entry when log is nil.
func OrDiscard(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return Discard()
	}
	return log
}

// messageFormatter prints the message followed by any fields in key order.
type messageFormatter struct{}

func (f *messageFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Message)
	keys := lo.Keys(entry.Data)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
