// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay mirrors bus events onto a Redis pub/sub channel so renderers
// outside the daemon process can follow sessions.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "lumi:events"

const publishTimeout = 2 * time.Second

// Config holds the Redis connection and the mirrored topics.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	// Topics limits what is mirrored. Empty mirrors everything.
	Topics []string
}

// Relay publishes every matching bus event as JSON.
type Relay struct {
	client  *redis.Client
	channel string
	topics  []string
	logger  zerolog.Logger
}

// NewClient builds the go-redis client for cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zerolog.Logger) (*Relay, error) {
	client := NewClient(cfg)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRelay(client, cfg, logger), nil
}

func newRelay(client *redis.Client, cfg Config, logger *zerolog.Logger) *Relay {
	l := log.WithComponent("relay")
	if logger != nil {
		l = *logger
	}
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{client: client, channel: channel, topics: cfg.Topics, logger: l}
}

// Channel returns the Redis channel events are published on.
func (r *Relay) Channel() string { return r.channel }

// Run mirrors events from b until ctx ends or the bus closes. Publish
// failures are logged and counted; they never stop the relay.
func (r *Relay) Run(ctx context.Context, b *bus.Bus) error {
	sub := b.Subscribe(bus.Filter{Topics: r.topics})
	defer sub.Close()
	metrics.AddStreamClients("redis", 1)
	defer metrics.AddStreamClients("redis", -1)

	r.logger.Info().
		Str(log.FieldEvent, "relay.started").
		Str("redis_channel", r.channel).
		Strs("topics", r.topics).
		Msg("event relay started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			r.publish(ctx, ev)
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.IncRelayPublished("error")
		r.logger.Warn().Err(err).Str(log.FieldEvent, "relay.marshal_failed").Str(log.FieldTopic, string(ev.Topic)).Msg("json marshal failed")
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		metrics.IncRelayPublished("error")
		r.logger.Warn().Err(err).Str(log.FieldEvent, "relay.publish_failed").Str(log.FieldTopic, string(ev.Topic)).Msg("redis publish failed")
		return
	}
	metrics.IncRelayPublished("ok")
}

// HealthCheck pings Redis.
func (r *Relay) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}

// Listen subscribes to channel and yields decoded events until ctx ends or
// the connection drops. Payloads that are not events are skipped.
func Listen(ctx context.Context, client *redis.Client, channel string) (<-chan model.Event, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	ps := client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	out := make(chan model.Event)
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Topic == "" {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
