// Package redis publishes decision events (signals, rejections, fills,
// PnL updates) to capped Redis streams for external consumers.
//
// Publishing is fire-and-forget: failures are logged and never surfaced
// to the engine's control flow.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: enough history for a few weeks of 4h decisions.
	streamMaxLen = 10000

	publishTimeout = 2 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes decision events to Redis streams.
// Implements model.EventRecorder.
type Publisher struct {
	client *goredis.Client
}

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Record appends an event to the "events:{kind}" stream.
// Never blocks the caller beyond a short timeout; errors are logged only.
func (p *Publisher) Record(ctx context.Context, kind string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis] marshal event %s: %v", kind, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.client.XAdd(pubCtx, &goredis.XAddArgs{
		Stream:       "events:" + kind,
		MaxLenApprox: streamMaxLen,
		Values: map[string]interface{}{
			"kind":    kind,
			"payload": string(data),
			"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		log.Printf("[redis] XADD events:%s failed: %v", kind, err)
	}
}

// Client exposes the underlying connection for health probes.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
