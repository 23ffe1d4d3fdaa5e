package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"

	"peopleapi/internal/config"
)

// ErrIncompleteConfig is returned when a required connection setting is empty.
var ErrIncompleteConfig = errors.New("incomplete database config")

const pingTimeout = 5 * time.Second

// Swapped in tests.
var (
	openDB  = sql.Open
	backOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return b
	}
)

// PostgresURL renders c as a postgres:// URL understood by pgx.
func PostgresURL(c config.DatabaseConfig) (string, error) {
	var missing []string
	for _, f := range []struct{ key, val string }{
		{"host", c.Host}, {"port", c.Port}, {"user", c.User}, {"name", c.Name},
	} {
		if f.val == "" {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrIncompleteConfig, strings.Join(missing, ", "))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.User),
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.AppName != "" {
		q.Set("application_name", c.AppName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect opens a pool on the otelsql-wrapped pgx driver and returns once the
// server answers a ping. Up to c.ConnectAttempts pings are made with
// exponential backoff between them, so the API can start alongside its database.
func Connect(ctx context.Context, c config.DatabaseConfig, log *zap.Logger) (*sql.DB, error) {
	dsn, err := PostgresURL(c)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("component", "database"), zap.String("db_host", c.Host))

	driverName, err := otelsql.Register("pgx",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL, semconv.DBName(c.Name)),
		otelsql.WithSQLCommenter(true),
	)
	if err != nil {
		return nil, fmt.Errorf("register traced driver: %w", err)
	}

	db, err := openDB(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	limitPool(db, c)

	attempts, err := waitReady(ctx, db, c.ConnectAttempts, log)
	if err != nil {
		_ = db.Close()
		log.Error("db_connect_failed",
			zap.String("status", "error"),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return nil, fmt.Errorf("db ping: %w", err)
	}

	log.Info("db_connected",
		zap.String("status", "success"),
		zap.Int("attempts", attempts),
		zap.Int("max_open_conns", c.MaxOpenConns),
	)
	return db, nil
}

// limitPool applies the non-zero pool settings of c.
func limitPool(db *sql.DB, c config.DatabaseConfig) {
	if c.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.MaxOpenConns)
	}
	if c.MaxIdleConns > 0 {
		db.SetMaxIdleConns(c.MaxIdleConns)
	}
	if c.ConnMaxLifetimeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetimeSec) * time.Second)
	}
}

// waitReady pings db until it answers or maxTries is spent, returning the
// number of pings made. A canceled ctx stops the retries.
func waitReady(ctx context.Context, db *sql.DB, maxTries int, log *zap.Logger) (int, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		tries++
		return struct{}{}, db.PingContext(pingCtx)
	},
		backoff.WithBackOff(backOff()),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("db_ping_retry",
				zap.String("status", "retrying"),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	return tries, err
}
