// ABOUTME: Bridges whatsmeow's printf-style logger interface onto slog
// ABOUTME: Sub-loggers become a dotted "module" attribute

package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

type slogLogger struct {
	logger *slog.Logger
	module string
}

func newLogger(logger *slog.Logger, module string) waLog.Logger {
	return &slogLogger{logger: logger, module: module}
}

func (l *slogLogger) log(level slog.Level, msg string, args []interface{}) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", l.module)
}

func (l *slogLogger) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }
func (l *slogLogger) Infof(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args) }
func (l *slogLogger) Warnf(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args) }
func (l *slogLogger) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }

func (l *slogLogger) Sub(module string) waLog.Logger {
	return &slogLogger{logger: l.logger, module: l.module + "/" + module}
}
