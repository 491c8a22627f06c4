/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors state broadcasts onto Redis pub/sub so
// external integrations (signage dashboards, monitoring) can observe
// playback without holding a socket to this process. The mirror is
// optional: when Redis is unreachable the process runs standalone.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/events"
)

// channelPrefix namespaces the Redis channels this process publishes.
const channelPrefix = "vpapp:"

// RedisConfig carries the mirror's connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns the connection defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Redis forwards bus events to Redis channels. Construction never
// fails: an unreachable server disables the mirror with a warning and
// everything local keeps working.
type Redis struct {
	client  *redis.Client
	bus     *events.Bus
	logger  zerolog.Logger
	enabled bool

	wg sync.WaitGroup
}

// NewRedis connects and probes the server. cfg.Addr empty means the
// mirror is configured off.
func NewRedis(cfg RedisConfig, bus *events.Bus, logger zerolog.Logger) *Redis {
	r := &Redis{
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Logger(),
	}
	if cfg.Addr == "" {
		return r
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		r.logger.Warn().Err(err).Str("addr", cfg.Addr).
			Msg("redis unreachable, mirror disabled")
		client.Close()
		return r
	}

	r.client = client
	r.enabled = true
	r.logger.Info().Str("addr", cfg.Addr).Msg("redis mirror connected")
	return r
}

// Enabled reports whether the mirror is live.
func (r *Redis) Enabled() bool { return r.enabled }

// Run forwards status and player events until ctx is cancelled. No-op
// when the mirror is disabled.
func (r *Redis) Run(ctx context.Context) {
	if !r.enabled {
		return
	}
	for _, eventType := range []events.EventType{events.EventStatus, events.EventPlayer} {
		sub := r.bus.Subscribe(eventType)
		r.wg.Add(1)
		go r.forward(ctx, eventType, sub)
	}
}

func (r *Redis) forward(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer r.wg.Done()
	channel := channelPrefix + string(eventType)
	for {
		select {
		case <-ctx.Done():
			r.bus.Unsubscribe(eventType, sub)
			return
		case payload, open := <-sub:
			if !open {
				return
			}
			body, err := json.Marshal(payload)
			if err != nil {
				r.logger.Warn().Err(err).Str("channel", channel).Msg("unmarshalable payload")
				continue
			}
			// Best effort; a down Redis only costs external observers.
			if err := r.client.Publish(ctx, channel, body).Err(); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("channel", channel).Msg("mirror publish failed")
			}
		}
	}
}

// Close waits for the forwarders and releases the client.
func (r *Redis) Close() error {
	r.wg.Wait()
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
