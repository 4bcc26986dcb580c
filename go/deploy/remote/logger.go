package remote

import (
	"github.com/mgentili/phat-bench/go/deploy/inventory"
	"github.com/sirupsen/logrus"
)

func LogWithPrefix(prefix string) func(format string, args ...interface{}) {
	return func(format string, args ...interface{}) {
		logrus.Infof(prefix+format, args...)
	}
}

// HostLog returns a logger tagged with the action and host it concerns.
func HostLog(action string, h inventory.Host) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"action": action, "host": h.Name})
}
