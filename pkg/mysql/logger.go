package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQueryThreshold 超過此時間的 SQL 以 Warn 記錄
const slowQueryThreshold = 200 * time.Millisecond

// zapLogger 將 GORM 的日誌導向 zap
type zapLogger struct {
	log   *zap.Logger
	level logger.LogLevel
}

// newLogger 根據配置建立 GORM Logger
func newLogger(level string, log *zap.Logger) logger.Interface {
	if log == nil {
		log = zap.NewNop()
	}
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}
	return &zapLogger{log: log.Named("gorm"), level: logLevel}
}

func (l *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *zapLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *zapLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *zapLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace 每條 SQL 執行完後呼叫
//
// 錯誤 (查無資料除外) 記為 Error，慢查詢記為 Warn，其餘僅在 info 等級記錄
func (l *zapLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	fields := func() []zap.Field {
		sql, rows := fc()
		return []zap.Field{
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed),
		}
	}

	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		l.log.Error("query failed", append(fields(), zap.Error(err))...)
	case elapsed > slowQueryThreshold && l.level >= logger.Warn:
		l.log.Warn("slow query", append(fields(), zap.Duration("threshold", slowQueryThreshold))...)
	case l.level >= logger.Info:
		l.log.Info("query", fields()...)
	}
}
