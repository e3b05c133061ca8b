// Package logging configures the process-wide structured logger and hands
// out component-scoped entries. Everything downstream logs through logrus
// with fields rather than format strings, so output stays machine-parseable.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logger. Level is one of debug/info/warn/error
// (unknown values fall back to info). Format "json" enables the JSON
// formatter used in deployments; anything else keeps the human-readable
// text formatter the CLI wants.
func Setup(level, format string) {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(parseLevel(level))

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
		return
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// SetLevel adjusts the global level at runtime. The config watcher calls
// this when the log level changes in the file.
func SetLevel(level string) {
	logrus.SetLevel(parseLevel(level))
}

// Component returns an entry scoped to one subsystem. Callers attach their
// own per-call fields (user_id, memory_id) on top.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

func parseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}
