// Package log is the application logger. Library packages take an
// hclog.Logger instead.
package log

import (
	"context"
	"fmt"

	"github.com/pbinitiative/zenpvm/internal/appcontext"
	"github.com/pbinitiative/zenpvm/internal/profile"
	"go.uber.org/zap"
)

var logger = zap.NewNop().Sugar()

// Init builds the logger for the current profile. DEV logs human readable
// lines from debug level, other profiles log JSON from info level.
func Init() {
	var (
		l   *zap.Logger
		err error
	)
	if profile.Current == profile.DEV {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %s", err))
	}
	logger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Sync flushes buffered entries.
func Sync() {
	_ = logger.Sync()
}

func Info(format string, args ...any) {
	logger.Infof(format, args...)
}

func Error(format string, args ...any) {
	logger.Errorf(format, args...)
}

func Debug(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Warn(format string, args ...any) {
	logger.Warnf(format, args...)
}

func withContext(ctx context.Context) *zap.SugaredLogger {
	if id, ok := appcontext.GetCommandID(ctx); ok {
		return logger.With("command", id)
	}
	return logger
}

func Infof(ctx context.Context, format string, args ...any) {
	withContext(ctx).Infof(format, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Debugf(format, args...)
}

func Errorf(ctx context.Context, format string, args ...any) {
	withContext(ctx).Errorf(format, args...)
}
