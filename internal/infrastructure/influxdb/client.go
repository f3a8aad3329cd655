package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mosys-billing/tvfleet/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client writes fleet telemetry to an InfluxDB v2 bucket.
//
// Points are buffered by the library and flushed in batches. Asynchronous
// write failures are counted and passed to the SetOnError hook.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	open        atomic.Bool
	writeErrors atomic.Int64
	errorsDone  chan struct{}

	hookMu  sync.RWMutex
	onError func(err error)
}

// writeOptions maps the configured batching onto client options. Zero or
// negative values fall back to the package defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- positive
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive
}

// ping asks the server whether it is ready to accept writes.
func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	switch {
	case err != nil:
		return err
	case !ok:
		return fmt.Errorf("server reports not ready")
	}
	return nil
}

// Connect pings cfg.URL and opens a batching write API for cfg.Bucket.
// Returns ErrDisabled when the section is switched off.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := &Client{
		client:     client,
		writeAPI:   client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:        cfg,
		errorsDone: make(chan struct{}),
	}
	c.open.Store(true)
	go c.drainErrors()

	return c, nil
}

// drainErrors forwards write failures until the write API closes its
// error channel.
func (c *Client) drainErrors() {
	defer close(c.errorsDone)
	for err := range c.writeAPI.Errors() {
		c.writeErrors.Add(1)

		c.hookMu.RLock()
		hook := c.onError
		c.hookMu.RUnlock()
		if hook != nil {
			hook(err)
		}
	}
}

// Close flushes what is buffered and releases the client. Safe to call
// more than once.
func (c *Client) Close() error {
	if c.client == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	return c != nil && c.open.Load()
}

// WriteErrors returns how many batches failed to write since Connect.
func (c *Client) WriteErrors() int64 {
	return c.writeErrors.Load()
}

// SetOnError sets the hook for asynchronous write failures.
func (c *Client) SetOnError(hook func(err error)) {
	c.hookMu.Lock()
	c.onError = hook
	c.hookMu.Unlock()
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
