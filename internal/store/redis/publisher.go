// Package redis broadcasts committed balance entries to other processes
// over Redis pub/sub and keeps the latest entry per account under a key.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/treasury-sync/internal/domain/model"
)

const (
	DefaultPrefix    = "treasury:balances"
	DefaultLatestTTL = 10 * time.Minute
)

// client is the subset of *redis.Client the publisher uses.
type client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Message is the payload published for every committed entry.
type Message struct {
	Account   model.AccountKey        `json:"account"`
	Entry     model.AccountCacheEntry `json:"entry"`
	Published time.Time               `json:"published"`
}

// Publisher implements balance.Sink.
type Publisher struct {
	client client
	prefix string
	ttl    time.Duration
	nowFn  func() time.Time
}

type Option func(*Publisher)

func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLatestTTL sets the lifetime of the latest-entry key. Zero keeps it
// without expiry.
func WithLatestTTL(ttl time.Duration) Option {
	return func(p *Publisher) { p.ttl = ttl }
}

func NewPublisher(ctx context.Context, url string, opts ...Option) (*Publisher, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	c := redis.NewClient(redisOpts)

	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return newPublisher(c, opts...), nil
}

func newPublisher(c client, opts ...Option) *Publisher {
	p := &Publisher{
		client: c,
		prefix: DefaultPrefix,
		ttl:    DefaultLatestTTL,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Publisher) Name() string {
	return "redis"
}

// Channel is the pub/sub channel carrying updates for key.
func (p *Publisher) Channel(key model.AccountKey) string {
	return p.prefix + ":" + key.String()
}

// LatestKey holds the most recent Message for key.
func (p *Publisher) LatestKey(key model.AccountKey) string {
	return p.Channel(key) + ":latest"
}

// Publish stores entry as the latest for key and broadcasts it. Loading-only
// transitions are broadcast but do not overwrite the stored entry.
func (p *Publisher) Publish(ctx context.Context, key model.AccountKey, entry model.AccountCacheEntry) error {
	payload, err := json.Marshal(Message{Account: key, Entry: entry, Published: p.nowFn().UTC()})
	if err != nil {
		return fmt.Errorf("marshal balance message: %w", err)
	}

	if entry.HasData() && !entry.LoadingTokenData {
		if err := p.client.Set(ctx, p.LatestKey(key), payload, p.ttl).Err(); err != nil {
			return fmt.Errorf("set latest balance %s: %w", key, err)
		}
	}
	if err := p.client.Publish(ctx, p.Channel(key), payload).Err(); err != nil {
		return fmt.Errorf("publish balance %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
