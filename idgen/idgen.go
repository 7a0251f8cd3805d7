// Package idgen provides the ID generators used for requests and sessions.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator can generate IDs.
type Generator interface {
	// Generate an ID.
	Generate() string
}

// NewSequential returns a generator whose first emitted ID is "1". IDs are
// deterministic, which keeps traces of repeated runs comparable.
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewSequentialWithPrefix returns a sequential generator that prepends prefix
// to every ID.
func NewSequentialWithPrefix(prefix string) Generator {
	return &sequentialGenerator{prefix: prefix}
}

// NewParallel returns a generator backed by xid. The IDs generated are
// globally unique but not deterministic.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	prefix string
	nextID uint64
}

func (g *sequentialGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)

	return g.prefix + strconv.FormatUint(idNumber, 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
