// Copyright 2018-present the CoreDHCP Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package logger

import (
	"io"
	"sync"

	log_prefixed "github.com/chappjc/logrus-prefix"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

var (
	globalLogger   *logrus.Logger
	getLoggerMutex sync.Mutex
)

// GetLogger returns a configured logger instance
func GetLogger(prefix string) *logrus.Entry {
	if prefix == "" {
		prefix = "<no prefix>"
	}
	if globalLogger == nil {
		getLoggerMutex.Lock()
		defer getLoggerMutex.Unlock()
		logger := logrus.New()
		logger.SetFormatter(&log_prefixed.TextFormatter{
			FullTimestamp: true,
		})
		globalLogger = logger
	}
	return globalLogger.WithField("prefix", prefix)
}

// SetLevel sets the global log level by name (e.g. "debug", "info",
// "warning"). An unrecognized name leaves the level unchanged.
func SetLevel(log *logrus.Entry, level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	log.Logger.SetLevel(lvl)
}

// ForceColors forces colored level output even when stdout is not a TTY,
// which cmds/prefixd enables when it detects an attached terminal itself.
func ForceColors(log *logrus.Entry) {
	log.Logger.SetFormatter(&log_prefixed.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
}

// WithFile logs to the specified file in addition to the existing output.
func WithFile(log *logrus.Entry, logfile string) {
	log.Logger.AddHook(lfshook.NewHook(logfile, &logrus.TextFormatter{}))
}

// WithNoStdOutErr disables logging to stdout/stderr.
func WithNoStdOutErr(log *logrus.Entry) {
	log.Logger.SetOutput(io.Discard)
}
