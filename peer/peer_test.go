package peer

import (
	"encoding/binary"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adwski/sketchwire/model"
	"github.com/adwski/sketchwire/wire"
)

type captureHandler struct {
	mx  sync.Mutex
	got []model.Action
}

func (h *captureHandler) HandleAction(_ *Peer, a model.Action) {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.got = append(h.got, a)
}

func (h *captureHandler) actions() []model.Action {
	h.mx.Lock()
	defer h.mx.Unlock()
	out := make([]model.Action, len(h.got))
	copy(out, h.got)
	return out
}

type closeTrap struct {
	ch chan error
}

func newCloseTrap() *closeTrap {
	return &closeTrap{ch: make(chan error, 8)}
}

func (c *closeTrap) fn(_ string, err error) {
	c.ch <- err
}

func (c *closeTrap) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestPeer(t *testing.T, h Handler, trap *closeTrap) (*Peer, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	logger := zerolog.Nop()
	p := New(Config{
		ID:      "p1",
		Conn:    local,
		Logger:  &logger,
		Handler: h,
		OnClose: trap.fn,
	})
	t.Cleanup(func() {
		_ = p.Close()
		_ = remote.Close()
	})
	return p, remote
}

func TestPeerStates(t *testing.T) {
	h := &captureHandler{}
	trap := newCloseTrap()
	p, _ := newTestPeer(t, h, trap)

	if got := p.State(); got != StateConnecting {
		t.Fatalf("State() = %v, want connecting", got)
	}
	p.Start(nil)
	if got := p.State(); got != StateEstablished {
		t.Fatalf("State() = %v, want established", got)
	}
	_ = p.Close()
	if got := p.State(); got != StateClosed {
		t.Fatalf("State() = %v, want closed", got)
	}
	if err := trap.wait(t); err != nil {
		t.Fatalf("OnClose err = %v, want nil on explicit close", err)
	}

	// repeated close must not fire OnClose again
	_ = p.Close()
	select {
	case <-trap.ch:
		t.Fatal("OnClose fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPeerReceiveAppliesInOrder(t *testing.T) {
	h := &captureHandler{}
	trap := newCloseTrap()
	p, remote := newTestPeer(t, h, trap)
	p.Start(nil)

	want := []model.Action{
		model.CreateAction(model.Shape{ID: "c-1", Origin: model.OriginClient, Geometry: model.Geometry{X: 1, Y: 2, R: 32}}),
		model.UpdateAction("c-1", model.Geometry{X: 1, Y: 2, R: 16}),
		model.UpdateAction("c-1", model.Geometry{X: 1, Y: 2, R: 4}),
	}
	for _, a := range want {
		if err := wire.Write(remote, a); err != nil {
			t.Fatalf("remote write: %v", err)
		}
	}

	waitFor(t, func() bool { return len(h.actions()) == len(want) }, "actions never arrived")
	if got := h.actions(); !reflect.DeepEqual(got, want) {
		t.Errorf("received actions mismatch:\ngot  %+v\nwant %+v", got, want)
	}

	// orderly remote close
	_ = remote.Close()
	if err := trap.wait(t); err != nil {
		t.Errorf("OnClose err = %v, want nil on orderly close", err)
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
}

func TestPeerSendWritesReplayFirst(t *testing.T) {
	h := &captureHandler{}
	trap := newCloseTrap()
	p, remote := newTestPeer(t, h, trap)

	replay := []model.Action{
		model.CreateAction(model.Shape{ID: "s-1", Origin: model.OriginServer, Geometry: model.Geometry{R: 5}}),
		model.CreateAction(model.Shape{ID: "s-2", Origin: model.OriginServer, Geometry: model.Geometry{R: 6}}),
	}
	queued := model.UpdateAction("s-1", model.Geometry{R: 7})
	if err := p.Send(queued); err != nil {
		t.Fatalf("Send() before Start: %v", err)
	}
	p.Start(replay)

	r := wire.NewReader(remote)
	want := append(append([]model.Action{}, replay...), queued)
	for i, w := range want {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("remote read %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, w) {
			t.Errorf("frame %d mismatch:\ngot  %+v\nwant %+v", i, got, w)
		}
	}
}

func TestPeerAbruptCloseMidFrame(t *testing.T) {
	h := &captureHandler{}
	trap := newCloseTrap()
	p, remote := newTestPeer(t, h, trap)
	p.Start(nil)

	// header promises 100 payload bytes, only 10 follow
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf, 100)
	if _, err := remote.Write(buf); err != nil {
		t.Fatalf("remote write: %v", err)
	}
	_ = remote.Close()

	err := trap.wait(t)
	if !errors.Is(err, wire.ErrFraming) {
		t.Fatalf("OnClose err = %v, want ErrFraming", err)
	}
	if got := p.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if got := h.actions(); len(got) != 0 {
		t.Errorf("handler saw %d actions from a broken frame", len(got))
	}
}

func TestPeerSkipsUnknownActions(t *testing.T) {
	h := &captureHandler{}
	trap := newCloseTrap()
	p, remote := newTestPeer(t, h, trap)
	p.Start(nil)

	payload := []byte(`{"op":"erase","id":"s-1"}`)
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := remote.Write(frame); err != nil {
		t.Fatalf("remote write: %v", err)
	}

	want := model.UpdateAction("s-1", model.Geometry{R: 4})
	if err := wire.Write(remote, want); err != nil {
		t.Fatalf("remote write: %v", err)
	}

	waitFor(t, func() bool { return len(h.actions()) == 1 }, "action after unknown op never arrived")
	if got := h.actions()[0]; !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got := p.State(); got != StateEstablished {
		t.Errorf("State() = %v, unknown op must not close the peer", got)
	}
}

func TestPeerTrySend(t *testing.T) {
	local, remote := net.Pipe()
	defer func() {
		_ = local.Close()
		_ = remote.Close()
	}()
	logger := zerolog.Nop()
	p := New(Config{
		ID:            "p1",
		Conn:          local,
		Logger:        &logger,
		Handler:       &captureHandler{},
		SendQueueSize: 1,
	})
	// not started: nothing drains the queue

	if err := p.TrySend(model.SnapshotRequestAction()); err != nil {
		t.Fatalf("TrySend() on empty queue: %v", err)
	}
	if err := p.TrySend(model.SnapshotRequestAction()); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("TrySend() on full queue = %v, want ErrSendQueueFull", err)
	}

	_ = p.Close()
	if err := p.TrySend(model.SnapshotRequestAction()); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("TrySend() after close = %v, want ErrPeerClosed", err)
	}
	if err := p.Send(model.SnapshotRequestAction()); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("Send() after close = %v, want ErrPeerClosed", err)
	}
}
