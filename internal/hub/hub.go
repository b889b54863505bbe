// Package hub fans history changes out to subscribers.
// It is transport-agnostic: subscribers register, receive events via Send,
// and the history manager publishes after every committed mutation.
package hub

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.klb.dev/clipstash/internal/model"
)

// EventKind says what happened to the history.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
	EventCleared EventKind = "cleared"
	EventPaused  EventKind = "paused"
	EventResumed EventKind = "resumed"
)

// Event is a history change delivered to a subscriber. Item is set for
// added, updated and removed; Removed counts items dropped by a clear.
type Event struct {
	Kind    EventKind
	Item    *model.Item
	Removed int
	At      time.Time
}

// PeerInfo describes a subscriber for status output.
type PeerInfo struct {
	ID          string
	Source      string
	ConnectedAt time.Time
}

// Peer is anything that can receive history events from the hub.
type Peer interface {
	ID() string
	Info() PeerInfo
	// Send delivers an event to the peer. Must be non-blocking.
	Send(Event)
}

// Hub routes history events to every registered peer.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	latest *Event
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{peers: make(map[string]Peer)}
}

// Register adds a peer. If replay is set and an event has been published, the
// most recent one is delivered immediately.
func (h *Hub) Register(p Peer, replay bool) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	latest := h.latest
	total := len(h.peers)
	h.mu.Unlock()

	slog.Info("subscriber registered", "peer", p.ID(), "source", p.Info().Source, "total", total)

	if replay && latest != nil {
		p.Send(*latest)
	}
}

// Unregister removes a peer from the hub.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	delete(h.peers, p.ID())
	total := len(h.peers)
	h.mu.Unlock()

	slog.Info("subscriber unregistered", "peer", p.ID(), "total", total)
}

// Publish records ev as the latest event and delivers it to every peer.
// Each peer gets its own copy of the item.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	h.mu.Lock()
	stored := ev
	if ev.Item != nil {
		it := ev.Item.Clone()
		stored.Item = &it
	}
	h.latest = &stored
	targets := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.Unlock()

	LogEvent(ev)

	for _, p := range targets {
		out := ev
		if ev.Item != nil {
			it := ev.Item.Clone()
			out.Item = &it
		}
		p.Send(out)
	}
}

// Latest returns the most recent event, if any.
func (h *Hub) Latest() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Event{}, false
	}
	return *h.latest, true
}

// Peers returns a snapshot of all current peer metadata, ordered by id.
func (h *Hub) Peers() []PeerInfo {
	h.mu.RLock()
	out := make([]PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mu.RUnlock()
	slices.SortFunc(out, func(a, b PeerInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}
