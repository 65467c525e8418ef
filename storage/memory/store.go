// Package memory holds the replicated shape set. The store is the
// only structure shared between the render path, the local dispatch
// loop, and every peer receive loop, so it is sharded: upserts for
// different ids land on different locks, a full snapshot briefly
// holds all of them.
package memory

import (
	"hash/fnv"
	"sync"

	"github.com/adwski/sketchwire/model"
)

const shardCount = 16 // power of two

type shard struct {
	mx     sync.RWMutex
	shapes map[string]model.Shape
}

type Store struct {
	shards [shardCount]*shard
}

func NewStore() *Store {
	st := &Store{}
	for i := range st.shards {
		st.shards[i] = &shard{shapes: make(map[string]model.Shape)}
	}
	return st
}

func (st *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return st.shards[h.Sum32()&(shardCount-1)]
}

// Upsert applies one create or update atomically. Create replaces the
// whole shape; update replaces geometry and keeps the recorded origin.
// An update for an id not seen yet is recorded as-is, so a delivery
// that races a catch-up replay still converges on the last applied
// geometry. Ops that carry no geometry are ignored.
func (st *Store) Upsert(a model.Action) {
	if a.ID == "" || a.Geometry == nil {
		return
	}
	sh := st.shardFor(a.ID)
	sh.mx.Lock()
	defer sh.mx.Unlock()

	switch a.Op {
	case model.OpCreate:
		sh.shapes[a.ID] = model.Shape{ID: a.ID, Origin: a.Origin, Geometry: *a.Geometry}
	case model.OpUpdate:
		s, ok := sh.shapes[a.ID]
		if !ok {
			s = model.Shape{ID: a.ID, Origin: a.Origin}
		}
		s.Geometry = *a.Geometry
		sh.shapes[a.ID] = s
	}
}

// Snapshot returns a point-in-time copy of every shape. All shard
// read locks are taken for the duration of the copy, so writers wait
// only as long as the copy itself.
func (st *Store) Snapshot() []model.Shape {
	for _, sh := range st.shards {
		sh.mx.RLock()
	}
	defer func() {
		for _, sh := range st.shards {
			sh.mx.RUnlock()
		}
	}()

	n := 0
	for _, sh := range st.shards {
		n += len(sh.shapes)
	}
	out := make([]model.Shape, 0, n)
	for _, sh := range st.shards {
		for _, s := range sh.shapes {
			out = append(out, s)
		}
	}
	return out
}

func (st *Store) Get(id string) (model.Shape, bool) {
	sh := st.shardFor(id)
	sh.mx.RLock()
	defer sh.mx.RUnlock()
	s, ok := sh.shapes[id]
	return s, ok
}

func (st *Store) Len() int {
	n := 0
	for _, sh := range st.shards {
		sh.mx.RLock()
		n += len(sh.shapes)
		sh.mx.RUnlock()
	}
	return n
}
