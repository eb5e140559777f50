package scheduler

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronLogger adapts zap to cron.Logger. cron info messages are logged at debug.
type cronLogger struct {
	l *zap.SugaredLogger
}

// NewCronLogger returns a cron.Logger that writes through logger.
func NewCronLogger(logger *zap.Logger) cron.Logger {
	return cronLogger{l: logger.Sugar()}
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
