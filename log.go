package patchex

import "go.uber.org/zap"

// logger is the package's logging collaborator. The geometry functions are
// pure and never log; parsing and extraction report skipped labels and files
// through it.
var logger = zap.NewNop().Sugar()

// SetLogger installs l as the package logger. A nil l restores the default
// no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		logger = zap.NewNop().Sugar()
		return
	}
	logger = l.Sugar()
}
