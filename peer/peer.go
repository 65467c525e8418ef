// Package peer owns one byte-stream connection to another
// participant: a receive loop that decodes frames and hands them to
// the coordinator, and a send loop that drains an outbound queue. A
// stalled or dead remote never blocks anything but its own peer.
package peer

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/metrics"
	"github.com/adwski/sketchwire/model"
	"github.com/adwski/sketchwire/wire"
)

const defaultSendQueueSize = 256

var (
	ErrPeerClosed    = errors.New("peer connection is closed")
	ErrSendQueueFull = errors.New("peer send queue is full")
)

type State int32

const (
	StateConnecting State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Handler consumes every action decoded from this peer's stream. It
// runs on the peer's receive goroutine.
type Handler interface {
	HandleAction(src *Peer, a model.Action)
}

type Config struct {
	ID      string
	Conn    net.Conn
	Logger  *zerolog.Logger
	Handler Handler

	// OnClose fires exactly once when the connection dies, with the
	// read/write error that killed it (nil on orderly close).
	OnClose func(id string, err error)

	SendQueueSize int
}

type Peer struct {
	id      string
	conn    net.Conn
	logger  zerolog.Logger
	handler Handler
	onClose func(string, error)

	out  chan model.Action
	done chan struct{}

	state       atomic.Int32
	closed      atomic.Bool
	connectedAt time.Time
}

func New(cfg Config) *Peer {
	size := cfg.SendQueueSize
	if size <= 0 {
		size = defaultSendQueueSize
	}
	p := &Peer{
		id:      cfg.ID,
		conn:    cfg.Conn,
		handler: cfg.Handler,
		onClose: cfg.OnClose,
		out:     make(chan model.Action, size),
		done:    make(chan struct{}),
		logger: cfg.Logger.With().
			Str("component", "peer").
			Str("peer", cfg.ID).Logger(),
	}
	p.state.Store(int32(StateConnecting))
	return p
}

// Start transitions to Established and spawns both loops. The replay
// burst, if any, is written before anything queued through Send, so a
// late joiner always observes a shape's create before its updates.
func (p *Peer) Start(replay []model.Action) {
	p.connectedAt = time.Now()
	p.state.Store(int32(StateEstablished))
	p.logger.Debug().
		Str("addr", p.Addr()).
		Int("replay", len(replay)).
		Msg("peer established")

	go p.receiveLoop()
	go p.sendLoop(replay)
}

func (p *Peer) receiveLoop() {
	r := wire.NewReader(p.conn)
	for {
		a, err := r.Read()
		switch {
		case err == nil:
			metrics.Frames.WithLabelValues("in").Inc()
			p.handler.HandleAction(p, a)
		case errors.Is(err, wire.ErrUnknownAction):
			p.logger.Debug().Err(err).Msg("skipping unknown action")
		case errors.Is(err, io.EOF):
			p.closeWith(nil)
			return
		default:
			p.closeWith(err)
			return
		}
	}
}

func (p *Peer) sendLoop(replay []model.Action) {
	for _, a := range replay {
		if !p.writeAction(a) {
			return
		}
	}
SendLoop:
	for {
		select {
		case <-p.done:
			break SendLoop
		case a := <-p.out:
			if !p.writeAction(a) {
				break SendLoop
			}
		}
	}
}

func (p *Peer) writeAction(a model.Action) bool {
	if err := wire.Write(p.conn, a); err != nil {
		p.closeWith(err)
		return false
	}
	metrics.Frames.WithLabelValues("out").Inc()
	return true
}

// Send queues an action for delivery, blocking while the queue is
// full. Fails with ErrPeerClosed once the connection is gone.
func (p *Peer) Send(a model.Action) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.out <- a:
		return nil
	case <-p.done:
		return ErrPeerClosed
	}
}

// TrySend is the non-blocking variant used for fan-out: the hub drops
// a peer that cannot keep up instead of stalling the others.
func (p *Peer) TrySend(a model.Action) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.out <- a:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrSendQueueFull
	}
}

func (p *Peer) Close() error {
	p.closeWith(nil)
	return nil
}

// closeWith runs once no matter how many paths race into it. Closing
// the socket is the cancellation primitive: it unblocks whichever
// loop is parked in a read or write syscall.
func (p *Peer) closeWith(err error) {
	if p.closed.Swap(true) {
		return
	}
	p.state.Store(int32(StateClosed))
	_ = p.conn.Close()
	close(p.done)

	if err != nil {
		p.logger.Warn().Err(err).Msg("peer connection lost")
	} else {
		p.logger.Debug().Msg("peer closed")
	}
	if p.onClose != nil {
		p.onClose(p.id, err)
	}
}

func (p *Peer) ID() string {
	return p.id
}

func (p *Peer) Addr() string {
	if addr := p.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (p *Peer) State() State {
	return State(p.state.Load())
}

func (p *Peer) Info() model.PeerInfo {
	return model.PeerInfo{
		ID:          p.id,
		Addr:        p.Addr(),
		ConnectedAt: p.connectedAt,
	}
}
