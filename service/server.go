package service

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/metrics"
	"github.com/adwski/sketchwire/model"
	"github.com/adwski/sketchwire/peer"
)

type ServerConfig struct {
	Logger   *zerolog.Logger
	Store    Store
	Hub      Hub
	Queue    *model.ActionQueue
	Listener net.Listener
}

// Server is the hub-role coordinator. It accepts peer connections,
// replays the current shape set to each newcomer, applies local and
// remote actions to the store, and fans every action out to all peers
// except its originator.
type Server struct {
	logger   zerolog.Logger
	rootLog  *zerolog.Logger
	store    Store
	hub      Hub
	queue    *model.ActionQueue
	listener net.Listener
	feed     *Feed

	// admission excludes applies (and vice versa),
	// apply paths run concurrently with each other.
	mx      sync.RWMutex
	closing bool
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger.With().Str("component", "hub-session").Logger()
	return &Server{
		logger:   logger,
		rootLog:  cfg.Logger,
		store:    cfg.Store,
		hub:      cfg.Hub,
		queue:    cfg.Queue,
		listener: cfg.Listener,
		feed:     NewFeed(cfg.Logger),
	}
}

func (s *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		s.logger.Debug().Msg("session stopped")
		wg.Done()
	}()

	loops := &sync.WaitGroup{}
	loops.Add(2)
	go s.acceptLoop(ctx, loops, errc)
	go s.dispatchLoop(loops)

	s.logger.Info().
		Str("addr", s.listener.Addr().String()).
		Msg("hub session started")

	<-ctx.Done()

	// Each close below unblocks the loop that was parked on it.
	_ = s.listener.Close()
	s.queue.Close()
	s.mx.Lock()
	s.closing = true
	s.mx.Unlock()
	s.hub.CloseAll()
	s.feed.Close()
	loops.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				errc <- errors.Join(ErrAccept, err)
			}
			return
		}
		s.admit(conn)
	}
}

// admit registers the peer and snapshots the store atomically with
// respect to apply, so every action lands either in the snapshot or
// in the peer's queue, never both. The peer writes the replay burst
// before touching its queue, which keeps per-shape order intact for
// the newcomer: snapshot state first, everything later in apply
// order after it.
func (s *Server) admit(conn net.Conn) {
	p := peer.New(peer.Config{
		ID:      uuid.NewString(),
		Conn:    conn,
		Logger:  s.rootLog,
		Handler: s,
		OnClose: func(id string, _ error) {
			s.hub.Remove(id)
		},
	})
	s.mx.Lock()
	if s.closing {
		s.mx.Unlock()
		_ = conn.Close()
		s.logger.Debug().Msg("connection rejected, session is shutting down")
		return
	}
	s.hub.Add(p)
	replay := snapshotToCreates(s.store.Snapshot())
	s.mx.Unlock()
	p.Start(replay)

	s.logger.Info().
		Str("peer", p.ID()).
		Str("addr", p.Addr()).
		Int("replayed", len(replay)).
		Msg("peer joined")
}

func (s *Server) dispatchLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		a, err := s.queue.Dequeue()
		if err != nil {
			s.logger.Debug().Msg("local action queue closed")
			return
		}
		s.apply(a, "")
	}
}

// HandleAction runs on each peer's receive goroutine.
func (s *Server) HandleAction(src *peer.Peer, a model.Action) {
	if a.Op == model.OpSnapshotRequest {
		s.replayTo(src)
		return
	}
	s.apply(a, src.ID())
}

func (s *Server) apply(a model.Action, excludeID string) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	s.store.Upsert(a)
	metrics.ActionsApplied.WithLabelValues(a.Op).Inc()
	s.feed.Publish(a)
	s.hub.Broadcast(a, excludeID)
}

// replayTo answers an explicit snapshot request. Send blocks on the
// requester's own queue only, so a slow requester throttles nobody
// but itself.
func (s *Server) replayTo(p *peer.Peer) {
	replay := snapshotToCreates(s.store.Snapshot())
	for _, c := range replay {
		if err := p.Send(c); err != nil {
			s.logger.Debug().Err(err).
				Str("peer", p.ID()).
				Msg("replay cut short")
			return
		}
	}
	s.logger.Debug().
		Str("peer", p.ID()).
		Int("replayed", len(replay)).
		Msg("snapshot replayed on request")
}

// Snapshot serves the render collaborator and the observer API.
func (s *Server) Snapshot() []model.Shape {
	return s.store.Snapshot()
}

// Peers returns the current hub roster.
func (s *Server) Peers() []model.PeerInfo {
	return s.hub.List()
}

func (s *Server) Subscribe() (string, <-chan model.Action) {
	return s.feed.Subscribe()
}

func (s *Server) Unsubscribe(id string) {
	s.feed.Unsubscribe(id)
}
