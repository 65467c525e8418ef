package hub

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/metrics"
	"github.com/adwski/sketchwire/model"
)

// Peer is what the hub needs from an established connection.
type Peer interface {
	ID() string
	Info() model.PeerInfo
	TrySend(a model.Action) error
	Close() error
}

// Hub keeps the set of established peers on the server side and fans
// actions out to them. Broadcast iterates over a copy of the set, so
// peers joining or dying mid-broadcast never corrupt the iteration.
type Hub struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	peers  map[string]Peer
}

func New(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "hub").Logger(),
		mx:     &sync.RWMutex{},
		peers:  make(map[string]Peer),
	}
}

func (h *Hub) Add(p Peer) {
	h.mx.Lock()
	h.peers[p.ID()] = p
	h.mx.Unlock()

	metrics.PeersConnected.Inc()
	h.logger.Debug().
		Str("peer", p.ID()).
		Msg("peer registered")
}

func (h *Hub) Remove(id string) {
	h.mx.Lock()
	_, ok := h.peers[id]
	if ok {
		delete(h.peers, id)
	}
	h.mx.Unlock()

	if ok {
		metrics.PeersConnected.Dec()
		h.logger.Debug().
			Str("peer", id).
			Msg("peer removed")
	}
}

// Broadcast delivers an action to every peer except the one named by
// excludeID (the originator, so nothing is ever relayed back to its
// source). A peer whose queue is full is dropped and closed; delivery
// to the rest continues. Returns the number of peers reached.
func (h *Hub) Broadcast(a model.Action, excludeID string) int {
	h.mx.RLock()
	targets := make([]Peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != excludeID {
			targets = append(targets, p)
		}
	}
	h.mx.RUnlock()

	sent := 0
	for _, p := range targets {
		err := p.TrySend(a)
		if err == nil {
			sent++
			continue
		}
		metrics.BroadcastDrops.Inc()
		h.logger.Warn().Err(err).
			Str("peer", p.ID()).
			Str("op", a.Op).
			Msg("dropping dead peer")
		h.Remove(p.ID())
		_ = p.Close()
	}

	if sent == 0 && len(targets) > 0 {
		h.logger.Debug().
			Str("op", a.Op).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

func (h *Hub) Len() int {
	h.mx.RLock()
	defer h.mx.RUnlock()
	return len(h.peers)
}

// List returns the roster sorted by peer id.
func (h *Hub) List() []model.PeerInfo {
	h.mx.RLock()
	out := make([]model.PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mx.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) CloseAll() {
	h.mx.Lock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.peers = make(map[string]Peer)
	h.mx.Unlock()

	for _, p := range peers {
		metrics.PeersConnected.Dec()
		_ = p.Close()
	}
	if len(peers) > 0 {
		h.logger.Debug().
			Int("peers", len(peers)).
			Msg("all peers closed")
	}
}
