// Package journal persists dispatcher decisions and the media index. SQLite
// is the default driver; Postgres and MySQL are supported for deployments
// where several watchers share one journal.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/models"
)

// slowQueryThreshold marks queries worth a warning. The journal is a small
// side table; anything slower than this is misbehaving.
const slowQueryThreshold = 200 * time.Millisecond

// DB wraps the journal database handle.
type DB struct {
	*gorm.DB
	cfg    config.JournalConfig
	logger *slog.Logger
}

// Open connects to the journal database, applies pool settings, and migrates
// the schema.
func Open(cfg config.JournalConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialector, err := getDialector(cfg)
	if err != nil {
		return nil, err
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: newSlogGormLogger(logger, cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	db := &DB{DB: gormDB, cfg: cfg, logger: logger}
	if err := db.migrate(); err != nil {
		return nil, err
	}

	logger.Info("journal database ready", slog.String("driver", cfg.Driver))
	return db, nil
}

func (db *DB) migrate() error {
	if err := db.AutoMigrate(&models.CommandRecord{}, &models.MediaRecord{}); err != nil {
		return fmt.Errorf("migrating journal schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getDialector builds the driver-specific dialector.
func getDialector(cfg config.JournalConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg.DSN)), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
}

// sqliteDSN appends the pragmas an embedded single-writer database needs.
// A DSN that already carries parameters is taken as-is.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
}

// slogGormLogger adapts gorm's logger interface onto slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  gormlogger.LogLevel
}

func newSlogGormLogger(logger *slog.Logger, level string) gormlogger.Interface {
	return &slogGormLogger{
		logger: logger.With(slog.String("component", "journal-db")),
		level:  parseGormLevel(level),
	}
}

func parseGormLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func (l *slogGormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.logger.ErrorContext(ctx, "query failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
			slog.Int64("rows", rows),
			slog.String("sql", truncateSQL(sql)))
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.WarnContext(ctx, "slow query",
			slog.Duration("elapsed", elapsed),
			slog.Int64("rows", rows),
			slog.String("sql", truncateSQL(sql)))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.DebugContext(ctx, "query",
			slog.Duration("elapsed", elapsed),
			slog.Int64("rows", rows),
			slog.String("sql", truncateSQL(sql)))
	}
}

func truncateSQL(sql string) string {
	const max = 500
	if len(sql) <= max {
		return sql
	}
	return sql[:max] + "..."
}
