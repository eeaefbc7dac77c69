package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/davidmoltin/site-integrations/pkg/config"
	"github.com/davidmoltin/site-integrations/pkg/logger"
	"github.com/davidmoltin/site-integrations/pkg/metrics"
)

// connectBackoff is the wait between connection attempts; its length bounds the attempts.
var connectBackoff = []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// ErrDatabaseUnavailable is returned while the breaker is open
var ErrDatabaseUnavailable = errors.New("database temporarily unavailable")

// PostgresDB is the execution and alert-history store connection.
// Exec and Query statements run behind a circuit breaker.
type PostgresDB struct {
	DB      *sql.DB
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewPostgresDB opens the pool and pings it, retrying on the connectBackoff schedule
func NewPostgresDB(cfg *config.Config, m *metrics.Metrics, log *logger.Logger) (*PostgresDB, error) {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	log = log.WithComponent("database")

	var lastErr error
	for attempt := 1; attempt <= len(connectBackoff); attempt++ {
		db, err := openPool(cfg)
		if err == nil {
			log.Info("PostgreSQL connection established",
				logger.String("host", cfg.Database.Host),
				logger.String("database", cfg.Database.Database),
				logger.Int("attempt", attempt),
			)
			return &PostgresDB{
				DB:      db,
				breaker: newBreaker(m, log),
				metrics: m,
				logger:  log,
			}, nil
		}
		lastErr = err

		log.Warn("Database connection attempt failed",
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", len(connectBackoff)),
			logger.Err(err),
		)
		if attempt < len(connectBackoff) {
			time.Sleep(connectBackoff[attempt-1])
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", len(connectBackoff), lastErr)
}

func openPool(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// newBreaker trips once at least three statements in a 10s window fail at 60% or more
func newBreaker(m *metrics.Metrics, log *logger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "database",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// a missing row or a cancelled caller says nothing about database health
			return err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Database circuit breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

func (p *PostgresDB) Close() error {
	return p.DB.Close()
}

// HealthCheck pings directly so an open breaker cannot mask recovery
func (p *PostgresDB) HealthCheck(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *PostgresDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return guard(p, "exec", func() (sql.Result, error) {
		return p.DB.ExecContext(ctx, query, args...)
	})
}

func (p *PostgresDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return guard(p, "query", func() (*sql.Rows, error) {
		return p.DB.QueryContext(ctx, query, args...)
	})
}

// QueryRowContext bypasses the breaker; its error only surfaces at Scan.
func (p *PostgresDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := p.DB.QueryRowContext(ctx, query, args...)
	p.observe("query_row", start, row.Err())
	return row
}

func guard[T any](p *PostgresDB, queryType string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	p.observe(queryType, start, err)

	var zero T
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	if err != nil {
		return zero, err
	}
	return out.(T), nil
}

func (p *PostgresDB) observe(queryType string, start time.Time, err error) {
	p.metrics.DBQueryDuration.WithLabelValues(queryType, "").Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		p.metrics.DBQueryErrors.WithLabelValues(queryType, "").Inc()
	}
}

// BreakerOpen reports whether statements are currently being rejected
func (p *PostgresDB) BreakerOpen() bool {
	return p.breaker.State() == gobreaker.StateOpen
}
