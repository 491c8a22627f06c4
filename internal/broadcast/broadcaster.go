/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast fans state deltas out to every connected observer:
// WebSocket subscribers through the in-process bus and raw TCP clients
// through registered notifiers. Delivery is best-effort and non-durable;
// late joiners rely on the full snapshot pushed at connect time.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/events"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// Notifier receives one textual notification line. Implementations must
// not block; a slow client drops lines rather than stalling the caller.
type Notifier interface {
	Notify(line string)
}

// Broadcaster routes published key/value pairs onto the event bus and
// to attached textual notifiers.
type Broadcaster struct {
	bus    *events.Bus
	logger zerolog.Logger

	mu        sync.RWMutex
	notifiers map[Notifier]struct{}
}

// New creates a broadcaster on top of bus.
func New(bus *events.Bus, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		bus:       bus,
		logger:    logger.With().Str("component", "broadcast").Logger(),
		notifiers: make(map[Notifier]struct{}),
	}
}

// Attach registers a notifier for textual pushes.
func (b *Broadcaster) Attach(n Notifier) {
	b.mu.Lock()
	b.notifiers[n] = struct{}{}
	b.mu.Unlock()
}

// Detach removes a previously attached notifier.
func (b *Broadcaster) Detach(n Notifier) {
	b.mu.Lock()
	delete(b.notifiers, n)
	b.mu.Unlock()
}

// Publish emits one state delta. The "player" and "message" keys ride
// their own bus channels; everything else is a pStatus delta keyed by
// the changed top-level field.
func (b *Broadcaster) Publish(key string, value any) {
	telemetry.BroadcastsTotal.WithLabelValues(key).Inc()

	switch key {
	case "player":
		if payload, ok := value.(map[string]any); ok {
			b.bus.Publish(events.EventPlayer, payload)
		}
	case "message":
		b.bus.Publish(events.EventMessage, events.Payload{"message": value})
	default:
		b.bus.Publish(events.EventStatus, events.Payload{key: value})
	}

	b.notifyAll(key, value)
}

// notifyAll pushes "key,<json>" to every live TCP client.
func (b *Broadcaster) notifyAll(key string, value any) {
	b.mu.RLock()
	if len(b.notifiers) == 0 {
		b.mu.RUnlock()
		return
	}
	targets := make([]Notifier, 0, len(b.notifiers))
	for n := range b.notifiers {
		targets = append(targets, n)
	}
	b.mu.RUnlock()

	body, err := json.Marshal(value)
	if err != nil {
		b.logger.Warn().Err(err).Str("key", key).Msg("unmarshalable broadcast value")
		return
	}
	line := key + "," + string(body)
	for _, n := range targets {
		n.Notify(line)
	}
}
