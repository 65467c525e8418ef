package service

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/metrics"
	"github.com/adwski/sketchwire/model"
	"github.com/adwski/sketchwire/peer"
)

// RedialFunc reestablishes the uplink. Optional: without one the
// client stays in local-only mode after the hub is lost.
type RedialFunc func(ctx context.Context) (net.Conn, error)

type ClientConfig struct {
	Logger *zerolog.Logger
	Store  Store
	Queue  *model.ActionQueue
	Conn   net.Conn
	Redial RedialFunc
}

// Client is the client-role coordinator: one uplink to the hub.
// Local actions are applied to the local store and forwarded to the
// hub; everything received is applied to the local store. Losing the
// uplink never stops the process, drawing just goes local.
type Client struct {
	logger  zerolog.Logger
	rootLog *zerolog.Logger
	store   Store
	queue   *model.ActionQueue
	conn    net.Conn
	redial  RedialFunc

	mx        sync.Mutex
	up        *peer.Peer
	connected atomic.Bool
	lost      chan error
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		logger:  cfg.Logger.With().Str("component", "client-session").Logger(),
		rootLog: cfg.Logger,
		store:   cfg.Store,
		queue:   cfg.Queue,
		conn:    cfg.Conn,
		redial:  cfg.Redial,
		lost:    make(chan error, 1),
	}
}

func (c *Client) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		c.logger.Debug().Msg("session stopped")
		wg.Done()
	}()

	c.startUplink(c.conn)
	c.logger.Info().
		Str("addr", c.conn.RemoteAddr().String()).
		Msg("client session started")

	loops := &sync.WaitGroup{}
	loops.Add(1)
	go c.dispatchLoop(loops)

SuperviseLoop:
	for {
		select {
		case <-ctx.Done():
			break SuperviseLoop
		case err := <-c.lost:
			c.connected.Store(false)
			if c.redial == nil {
				c.logger.Warn().Err(err).
					Msg("hub lost, drawing continues locally")
				continue
			}
			c.logger.Warn().Err(err).Msg("hub lost, redialing")
			conn, rdErr := c.redialWithBackoff(ctx)
			if rdErr != nil {
				c.logger.Warn().Err(rdErr).
					Msg("redial gave up, drawing continues locally")
				continue
			}
			c.startUplink(conn)
			c.logger.Info().
				Str("addr", conn.RemoteAddr().String()).
				Msg("uplink reestablished")
		}
	}

	if up := c.uplink(); up != nil {
		_ = up.Close()
	}
	c.queue.Close()
	loops.Wait()
}

func (c *Client) startUplink(conn net.Conn) {
	p := peer.New(peer.Config{
		ID:      uuid.NewString(),
		Conn:    conn,
		Logger:  c.rootLog,
		Handler: c,
		OnClose: func(_ string, err error) {
			c.connected.Store(false)
			select {
			case c.lost <- err:
			default:
			}
		},
	})
	c.mx.Lock()
	c.up = p
	c.mx.Unlock()
	c.connected.Store(true)
	p.Start(nil)
}

func (c *Client) uplink() *peer.Peer {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.up
}

func (c *Client) redialWithBackoff(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		var err error
		conn, err = c.redial(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("redial attempt failed")
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) dispatchLoop(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		a, err := c.queue.Dequeue()
		if err != nil {
			c.logger.Debug().Msg("local action queue closed")
			return
		}
		c.store.Upsert(a)
		metrics.ActionsApplied.WithLabelValues(a.Op).Inc()

		if !c.connected.Load() {
			continue
		}
		if up := c.uplink(); up != nil {
			if err = up.Send(a); err != nil {
				c.logger.Debug().Err(err).Msg("action stays local")
			}
		}
	}
}

// HandleAction runs on the uplink's receive goroutine.
func (c *Client) HandleAction(_ *peer.Peer, a model.Action) {
	if a.Op == model.OpSnapshotRequest {
		c.logger.Debug().Msg("ignoring snapshot request from the hub")
		return
	}
	c.store.Upsert(a)
	metrics.ActionsApplied.WithLabelValues(a.Op).Inc()
}

// RequestSync asks the hub to replay every shape it holds.
func (c *Client) RequestSync() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	up := c.uplink()
	if up == nil {
		return ErrNotConnected
	}
	return up.Send(model.SnapshotRequestAction())
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Snapshot serves the render collaborator.
func (c *Client) Snapshot() []model.Shape {
	return c.store.Snapshot()
}
