// Package evidence records, for each item the Assembler includes in a
// bundle, the provenance that justified including it: why it was
// pulled in, where its score came from, and whether any part of the
// path that produced it was served from cache.
package evidence

import "github.com/Aman-CERP/ctxengine/internal/store"

// Reason is why an item was included in a bundle. An item can carry
// more than one: a seed that is also a test-of target keeps both.
type Reason string

const (
	ReasonSeed           Reason = "seed"
	ReasonGraphExpansion Reason = "graph-expansion"
	ReasonTestOf         Reason = "test-of"
	ReasonRoutesTarget   Reason = "routes-target"
	ReasonConfigKey      Reason = "config-key"
)

// LaneMask records which retrieval lanes contributed to an item's
// fused score.
type LaneMask struct {
	Lexical bool
	Vector  bool
	Rerank  bool
}

// Evidence is the per-item provenance record attached to a bundle item.
// It is additive: callers append further Reasons to an existing record
// rather than replacing it, since the same span can be both a seed and
// later rediscovered via graph expansion.
type Evidence struct {
	File     string
	Symbol   string
	Reasons  []Reason
	EdgeType store.EdgeKind // zero value if not included via graph
	Rank     int
	Score    float64
	Cached   bool
	Lanes    LaneMask
}

// New creates an Evidence record with a single initial reason.
func New(file, symbol string, reason Reason) *Evidence {
	return &Evidence{File: file, Symbol: symbol, Reasons: []Reason{reason}}
}

// AddReason appends reason if not already present, keeping Evidence
// additive rather than overwritten.
func (e *Evidence) AddReason(reason Reason) {
	for _, r := range e.Reasons {
		if r == reason {
			return
		}
	}
	e.Reasons = append(e.Reasons, reason)
}

// HasReason reports whether reason has already been recorded.
func (e *Evidence) HasReason(reason Reason) bool {
	for _, r := range e.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}
