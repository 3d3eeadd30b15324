// Package klog wraps logrus with the handful of fields every kernel
// log line carries: the acting PID and, where relevant, the syscall
// name. It exists so call sites write klog.Task(pid).Info("forked")
// instead of repeating WithField boilerplate everywhere.
package klog

import "github.com/sirupsen/logrus"

// L is the package-wide logger. Tests may swap it for one with a
// buffered output and a higher level.
var L = logrus.StandardLogger()

// Task returns a logger scoped to the given PID.
func Task(pid int32) *logrus.Entry {
	return L.WithField("pid", pid)
}

// Syscall returns a logger scoped to a PID and the syscall being
// serviced, for use at the syscalls facade boundary.
func Syscall(pid int32, name string) *logrus.Entry {
	return L.WithFields(logrus.Fields{"pid": pid, "syscall": name})
}

func init() {
	L.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
