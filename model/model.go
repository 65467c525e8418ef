package model

import (
	"errors"
	"time"
)

var (
	ErrNoID       = errors.New("action has no shape id")
	ErrNoOrigin   = errors.New("action has no origin")
	ErrNoGeometry = errors.New("action has no geometry")
)

// Role of the participant that authored a shape. Carried through
// unchanged so the render side can color strokes by author.
type Origin string

const (
	OriginServer Origin = "server"
	OriginClient Origin = "client"
)

// Action ops understood by every peer.
const (
	OpCreate          = "create"
	OpUpdate          = "update"
	OpSnapshotRequest = "snapshot_request"
)

type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// Shape is the unit of replicated state. ID is assigned once by the
// creating side and never reused; only Geometry mutates afterwards.
type Shape struct {
	ID       string   `json:"id"`
	Origin   Origin   `json:"origin"`
	Geometry Geometry `json:"geometry"`
}

// Action is the unit of transport and of the local queue.
//
//   - create: full shape (id, origin, geometry)
//   - update: id plus replacement geometry
//   - snapshot_request: no payload, asks the hub to replay every shape
type Action struct {
	Op       string    `json:"op"`
	ID       string    `json:"id,omitempty"`
	Origin   Origin    `json:"origin,omitempty"`
	Geometry *Geometry `json:"geometry,omitempty"`
}

func CreateAction(s Shape) Action {
	geom := s.Geometry
	return Action{
		Op:       OpCreate,
		ID:       s.ID,
		Origin:   s.Origin,
		Geometry: &geom,
	}
}

func UpdateAction(id string, geom Geometry) Action {
	return Action{
		Op:       OpUpdate,
		ID:       id,
		Geometry: &geom,
	}
}

func SnapshotRequestAction() Action {
	return Action{Op: OpSnapshotRequest}
}

// Validate checks per-op required fields. Op values outside the known
// set are not rejected here, unknown ops are the codec's business.
func (a Action) Validate() error {
	switch a.Op {
	case OpCreate:
		if a.ID == "" {
			return ErrNoID
		}
		if a.Origin == "" {
			return ErrNoOrigin
		}
		if a.Geometry == nil {
			return ErrNoGeometry
		}
	case OpUpdate:
		if a.ID == "" {
			return ErrNoID
		}
		if a.Geometry == nil {
			return ErrNoGeometry
		}
	}
	return nil
}

// PeerInfo is one hub roster entry.
type PeerInfo struct {
	ID          string    `json:"id"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}
