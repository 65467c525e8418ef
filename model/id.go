package model

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces ids that are unique across all peers without
// coordination: origin role, a random per-process node tag, and a
// local monotonic counter. Two participants can never collide even
// when creating shapes at the same instant.
type IDGenerator struct {
	prefix string
	n      atomic.Uint64
}

func NewIDGenerator(origin Origin) *IDGenerator {
	return &IDGenerator{
		prefix: fmt.Sprintf("%s-%s", origin, uuid.NewString()[:8]),
	}
}

func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
