// Package id provides the identity generators used by sequencer scopes and
// trace runs.
package id

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// ID identifies a scope within one sequencer. IDs from the same generator are
// strictly increasing.
type ID = uint64

// Generator produces monotonically increasing IDs.
type Generator interface {
	Generate() ID
}

// NewSequentialGenerator returns a generator whose first emitted ID is 1.
func NewSequentialGenerator() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() ID {
	return atomic.AddUint64(&g.next, 1)
}

// UniqueString returns a globally unique, sortable identifier. It is used to
// name trace runs and recording databases, where IDs from different processes
// must not collide.
func UniqueString() string {
	return xid.New().String()
}
