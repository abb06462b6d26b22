// logger.go: slog adapter for GORM's logger interface
package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pictora/pictora-go/internal/logging"
)

var (
	datastoreLogger     *slog.Logger
	datastoreLoggerOnce sync.Once
)

// getLogger returns the package-level datastore logger.
func getLogger() *slog.Logger {
	datastoreLoggerOnce.Do(func() {
		datastoreLogger = logging.ForService("datastore")
		if datastoreLogger == nil {
			datastoreLogger = slog.Default().With("service", "datastore")
		}
	})
	return datastoreLogger
}

// slowQueryThreshold marks queries worth a warning.
const slowQueryThreshold = 200 * time.Millisecond

// gormSlogAdapter routes GORM logs to slog.
type gormSlogAdapter struct {
	level gormlogger.LogLevel
}

func newGormLogger() gormlogger.Interface {
	return &gormSlogAdapter{level: gormlogger.Warn}
}

func (l *gormSlogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormSlogAdapter{level: level}
}

func (l *gormSlogAdapter) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		getLogger().InfoContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *gormSlogAdapter) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		getLogger().WarnContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *gormSlogAdapter) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		getLogger().ErrorContext(ctx, "gorm: "+msg, "args", args)
	}
}

func (l *gormSlogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && err != gorm.ErrRecordNotFound && l.level >= gormlogger.Error:
		getLogger().ErrorContext(ctx, "gorm query failed",
			"error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		getLogger().WarnContext(ctx, "gorm slow query",
			"sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level >= gormlogger.Info:
		getLogger().DebugContext(ctx, "gorm query",
			"sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
