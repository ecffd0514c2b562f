// Package db stores projects, jobs and clashes in SurrealDB.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/metrics"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

// The websocket upgrade breaks when TLS negotiates h2.
func init() {
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{NextProtos: []string{"http/1.1"}}
}

// AuthLevelDatabase signs in as a database user instead of a root user.
const AuthLevelDatabase = "database"

// Reconnect policy of the websocket connection.
const (
	dialTimeout         = 5 * time.Second
	reconnectFirstDelay = time.Second
	reconnectMaxDelay   = 30 * time.Second
	reconnectAttempts   = 10
)

// dataTables lists every table holding run data. Clashes come first since
// they reference jobs.
var dataTables = []string{"clash", "clash_job", "element"}

// Config locates and authenticates the clash database.
type Config struct {
	URL       string // ws:// or wss://, with or without the /rpc suffix
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" (default) or "database"
}

// Client is the clash database. The underlying websocket reconnects on its own.
type Client struct {
	conn    *rews.Connection[*gorillaws.Connection]
	db      *surrealdb.DB
	logger  logger.Logger
	metrics *metrics.Collector
}

// NewClient connects, signs in and selects the configured database.
// collector may be nil; when set, query timings are recorded.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger, collector *metrics.Collector) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())

	conn := dial(cfg.URL, sdkLogger)
	sdkLogger.Info("connecting to clash database", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := open(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	sdkLogger.Info("clash database ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, logger: sdkLogger, metrics: collector}, nil
}

// dial prepares a reconnecting websocket. gorillaws appends /rpc itself.
func dial(url string, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	base := strings.TrimSuffix(url, "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLogger,
	)

	backoff := rews.NewExponentialBackoffRetryer()
	backoff.InitialDelay = reconnectFirstDelay
	backoff.MaxDelay = reconnectMaxDelay
	backoff.Multiplier = 2
	backoff.MaxRetries = reconnectAttempts
	conn.Retryer = backoff
	return conn
}

// open signs in on an established connection and selects namespace and database.
func open(ctx context.Context, conn *rews.Connection[*gorillaws.Connection], cfg Config) (*surrealdb.DB, error) {
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("from connection: %w", err)
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == AuthLevelDatabase {
		auth.Namespace, auth.Database = cfg.Namespace, cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return nil, fmt.Errorf("signin as %q: %w", cfg.Username, err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	return db, nil
}

// Close drops the connection.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// InitSchema applies the table and index definitions. It is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if err := c.exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Info("schema applied")
	return nil
}

// Ping runs a trivial statement to check the database answers.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.exec(ctx, "RETURN 1"); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WipeData empties every data table and keeps the schema. Tests and the
// server's --wipe flag only.
func (c *Client) WipeData(ctx context.Context) error {
	for _, table := range dataTables {
		if err := c.exec(ctx, "DELETE "+table); err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
	}
	c.logger.Warn("all run data deleted", "tables", dataTables)
	return nil
}

// exec runs statements whose results are not needed.
func (c *Client) exec(ctx context.Context, sql string) error {
	defer c.observe(time.Now())
	_, err := surrealdb.Query[any](ctx, c.db, sql, nil)
	return err
}

func (c *Client) observe(start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))
	}
}

// rows returns the records of the first statement of a query result.
func rows[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}
