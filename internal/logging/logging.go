// Package logging sets up the sirupsen/logrus root logger, following
// docker-compose/ecs/containerd/main.go's TextFormatter-with-RFC3339Nano
// timestamps convention.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// New configures the root logrus logger and returns a *logrus.Entry
// tagged with component="server", the parent of every per-worker and
// per-session entry created by WithField("worker", n) / WithField("session", id).
func New(debug bool) *logrus.Entry {
	logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return logrus.WithField("component", "server")
}
