// Package db 是关系存储层：gorm 模型、连接与批量查询。
package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SlowQueryThreshold 超过该耗时的查询以 Warn 级别记录。
const SlowQueryThreshold = 200 * time.Millisecond

// zapGormLogger 把 gorm 日志转给 zap
type zapGormLogger struct {
	logger *zap.Logger
	level  logger.LogLevel
}

// NewZapGormLogger 创建基于 zap 的 gorm 日志
func NewZapGormLogger(zapLogger *zap.Logger, level logger.LogLevel) logger.Interface {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &zapGormLogger{
		logger: zapLogger.With(zap.String("component", "gorm")),
		level:  level,
	}
}

func (l *zapGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &zapGormLogger{
		logger: l.logger,
		level:  level,
	}
}

func (l *zapGormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *zapGormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *zapGormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

func (l *zapGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
	}

	switch {
	case err != nil && err != gorm.ErrRecordNotFound && l.level >= logger.Error:
		l.logger.Error("database query failed", append(fields, zap.Error(err))...)
	case elapsed > SlowQueryThreshold && l.level >= logger.Warn:
		l.logger.Warn("slow database query", fields...)
	case l.level >= logger.Info:
		l.logger.Debug("database query", fields...)
	}
}

// Open 按 DSN 选择驱动：postgres:// / postgresql:// / host= 走 postgres，其余视为 sqlite 文件路径。
// 打开后执行 AutoMigrate。
func Open(dsn string, log *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	config := &gorm.Config{
		Logger: NewZapGormLogger(log, logger.Warn),
	}

	var dialector gorm.Dialector
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if !isPostgres(dsn) {
		// sqlite 单写者；:memory: 库也只对单个连接可见
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run auto-migration: %w", err)
	}
	return db, nil
}

// AutoMigrate 创建或更新全部表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.HasPrefix(dsn, "host=")
}
