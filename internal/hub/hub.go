// Package hub fans out telemetry messages to WebSocket subscribers, with
// per-company and per-plate filtering.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"truck-telemetryv1/internal/metrics"
)

// Stream names, one per subscription endpoint.
const (
	StreamGPS    = "gps-stream"
	StreamSensor = "sensor-stream"
	StreamLoad   = "load-stream"
	StreamAlerts = "alerts"
	StreamTest   = "test-stream"
)

// PrivilegedCompanyID subscribers see every plate regardless of ownership.
const PrivilegedCompanyID = 2

// AllowListTTL bounds how long a company's plate allow-list is reused.
const AllowListTTL = 300 * time.Second

// PlateSource resolves which plates a company owns.
type PlateSource interface {
	PlatesForCompany(ctx context.Context, companyID int) ([]string, error)
}

type allowEntry struct {
	plates map[string]struct{}
	at     time.Time
}

// Hub tracks subscribers per stream and routes each published message to the
// clients authorized to see its plate.
type Hub struct {
	plateSource PlateSource
	metrics     *metrics.Metrics
	now         func() time.Time

	mu      sync.RWMutex
	streams map[string]map[*Client]bool

	allowMu sync.Mutex
	allow   map[int]allowEntry
}

// New creates a Hub. plateSource may be nil, in which case company-scoped
// subscribers receive nothing until one is provided.
func New(plateSource PlateSource, m *metrics.Metrics) *Hub {
	streams := make(map[string]map[*Client]bool)
	for _, s := range []string{StreamGPS, StreamSensor, StreamLoad, StreamAlerts, StreamTest} {
		streams[s] = make(map[*Client]bool)
	}
	return &Hub{
		plateSource: plateSource,
		metrics:     m,
		now:         time.Now,
		streams:     streams,
		allow:       make(map[int]allowEntry),
	}
}

// Attach registers a new WebSocket subscriber on a stream and starts its
// pumps. companyID < 0 means no company filter; plate "" means no plate
// filter.
func (h *Hub) Attach(conn *websocket.Conn, stream string, companyID int, plate string) *Client {
	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       h,
		stream:    stream,
		companyID: companyID,
		plate:     plate,
	}

	h.mu.Lock()
	subs, ok := h.streams[stream]
	if !ok {
		subs = make(map[*Client]bool)
		h.streams[stream] = subs
	}
	subs[client] = true
	count := len(subs)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	log.Printf("[hub] subscriber joined %s (cid=%d pn=%q, %d on stream)", stream, companyID, plate, count)

	go client.writePump()
	go client.readPump()
	return client
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	subs, ok := h.streams[c.stream]
	removed := ok && subs[c]
	if removed {
		delete(subs, c)
	}
	h.mu.Unlock()

	if removed {
		close(c.send)
		if h.metrics != nil {
			h.metrics.Subscribers.Dec()
		}
	}
}

// Broadcast routes one JSON message to every authorized subscriber of a
// stream. Slow clients are dropped-from, never blocked on.
func (h *Hub) Broadcast(ctx context.Context, stream string, payload []byte) {
	var env struct {
		LicensePlateNumber string `json:"licensePlateNumber"`
	}
	json.Unmarshal(payload, &env)
	plate := env.LicensePlateNumber

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.streams[stream]))
	for c := range h.streams[stream] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		if !h.authorized(ctx, c, plate) {
			continue
		}
		select {
		case c.send <- payload:
			if h.metrics != nil {
				h.metrics.BroadcastsTotal.WithLabelValues(stream).Inc()
			}
		default:
			if h.metrics != nil {
				h.metrics.BroadcastDrops.WithLabelValues(stream).Inc()
			}
		}
	}
}

// authorized decides whether one client may see a message for a plate.
// Company-scoped clients only get plates on their allow-list; a plate filter
// narrows further but never widens past the allow-list. Company 2 bypasses
// the allow-list.
func (h *Hub) authorized(ctx context.Context, c *Client, plate string) bool {
	if c.companyID >= 0 && c.companyID != PrivilegedCompanyID {
		if plate == "" {
			return false
		}
		allowed, ok := h.allowList(ctx, c.companyID)
		if !ok {
			return false
		}
		if _, in := allowed[plate]; !in {
			return false
		}
	}
	if c.plate != "" {
		return plate == c.plate
	}
	return true
}

func (h *Hub) allowList(ctx context.Context, companyID int) (map[string]struct{}, bool) {
	h.allowMu.Lock()
	entry, ok := h.allow[companyID]
	h.allowMu.Unlock()
	if ok && h.now().Sub(entry.at) < AllowListTTL {
		return entry.plates, true
	}

	if h.plateSource == nil {
		return nil, false
	}
	plates, err := h.plateSource.PlatesForCompany(ctx, companyID)
	if err != nil {
		log.Printf("[hub] allow-list lookup failed for company %d: %v", companyID, err)
		// Keep serving the stale list rather than going dark.
		if ok {
			return entry.plates, true
		}
		return nil, false
	}

	set := make(map[string]struct{}, len(plates))
	for _, p := range plates {
		set[p] = struct{}{}
	}
	h.allowMu.Lock()
	h.allow[companyID] = allowEntry{plates: set, at: h.now()}
	h.allowMu.Unlock()
	return set, true
}

// SubscriberCount reports the current subscriber count for a stream.
func (h *Hub) SubscriberCount(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[stream])
}
