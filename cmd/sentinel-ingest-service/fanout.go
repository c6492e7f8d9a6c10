// Copyright 2026 The Sentinel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentinel-works/sentinel/lib/schema/anomaly"
)

const (
	// subscriberBuffer is the per-subscriber event queue depth. A
	// subscriber that falls this far behind starts losing events.
	subscriberBuffer = 64

	// Websocket pump timings.
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

// Hub fans ingested readings out to live subscribers. Publishing
// never blocks the ingest path: each subscriber has a bounded queue
// and a full queue drops the event for that subscriber only. There is
// no replay; a new subscriber sees only readings ingested after it
// joined.
type Hub struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}

	dropped atomic.Int64
}

// Subscriber is one live listener's queue.
type Subscriber struct {
	events chan anomaly.LiveEvent
}

// Events is the subscriber's receive channel. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan anomaly.LiveEvent {
	return s.events
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new listener. The caller must Unsubscribe
// when done or the hub retains the queue forever.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{events: make(chan anomaly.LiveEvent, subscriberBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a listener and closes its channel. Safe to call
// once per subscriber; publish and close are serialized under the hub
// lock, so no event is ever sent on a closed channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.events)
}

// Publish delivers one event to every subscriber whose queue has
// room. Slow subscribers lose the event; nobody else is affected.
func (h *Hub) Publish(event anomaly.LiveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn("live subscriber queue full, dropping event",
				"reading_id", event.ID,
				"device", event.DeviceID)
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Dropped returns the total events dropped across all subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

var liveUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The live feed is read-only telemetry; any origin may watch it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeLive upgrades the request to a websocket and streams live
// events until the client disconnects or the hub closes the
// subscriber.
func (h *Hub) ServeLive(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := h.Subscribe()
	h.logger.Info("live subscriber connected",
		"remote", r.RemoteAddr,
		"subscribers", h.SubscriberCount())
	defer func() {
		h.Unsubscribe(sub)
		conn.Close()
		h.logger.Info("live subscriber disconnected",
			"remote", r.RemoteAddr,
			"subscribers", h.SubscriberCount())
	}()

	// Read pump: the client sends no application data, but we must
	// service control frames and notice the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub.events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
