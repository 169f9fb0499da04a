package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EmpoweredVote/odp-incidents/internal/logging"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrConnection marks failures to reach or authenticate against the destination.
var ErrConnection = errors.New("destination connection failed")

// Options tune the gorm session opened by Open.
type Options struct {
	SlowThreshold  time.Duration
	LogLevel       string
	ConnectTimeout time.Duration
}

// Open validates the connection string, connects, and pings. The returned
// close func releases the single underlying connection and is safe to defer.
func Open(ctx context.Context, dsn string, opts Options) (*gorm.DB, func(), error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, fmt.Errorf("%w: empty connection string", ErrConnection)
	}
	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid connection string: %v", ErrConnection, err)
	}

	lg := logger.New(logging.GormWriter(), logger.Config{
		SlowThreshold:             opts.SlowThreshold,
		LogLevel:                  gormLogLevel(opts.LogLevel),
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 lg,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConnection, describePgError(err))
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: get sql.DB: %v", ErrConnection, err)
	}
	closeFn := func() {
		if err := sqlDB.Close(); err != nil {
			logging.Warn().Err(err).Msg("close database")
		}
	}

	// One run, one connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("%w: %v", ErrConnection, describePgError(err))
	}

	logging.Info().Msg("connected to database")
	return gdb, closeFn, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// describePgError turns auth failures into something an operator can act on.
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000":
			return fmt.Errorf("invalid credentials for given connection string: %s", pgErr.Message)
		case "3D000":
			return fmt.Errorf("database does not exist: %s", pgErr.Message)
		}
	}
	return err
}
