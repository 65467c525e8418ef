// Package service holds the two session coordinators: the hub side
// that accepts peers and fans actions out, and the client side that
// keeps a single uplink and degrades to local-only drawing when the
// hub goes away.
package service

import (
	"errors"

	"github.com/adwski/sketchwire/hub"
	"github.com/adwski/sketchwire/model"
)

var (
	ErrAccept       = errors.New("unable to accept peer connection")
	ErrNotConnected = errors.New("not connected to the hub")
)

type (
	// Store is the shape set both coordinators replicate into.
	Store interface {
		Upsert(a model.Action)
		Snapshot() []model.Shape
	}

	// Hub is the broadcast registry the server variant fans out through.
	Hub interface {
		Add(p hub.Peer)
		Remove(id string)
		Broadcast(a model.Action, excludeID string) int
		List() []model.PeerInfo
		CloseAll()
	}
)

func snapshotToCreates(shapes []model.Shape) []model.Action {
	out := make([]model.Action, 0, len(shapes))
	for _, s := range shapes {
		out = append(out, model.CreateAction(s))
	}
	return out
}
