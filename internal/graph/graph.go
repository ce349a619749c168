// Package graph exposes adjacency queries over the typed edge set
// stored by internal/store, for Traversal's frontier expansion. It
// adds no state of its own: the source of truth (and the deterministic
// ordering guarantee) lives in the Store's covering indexes.
package graph

import (
	"context"
	"sort"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// EdgeStore is the subset of store.Store the graph package needs,
// narrowed so callers can supply a fake in tests without building a
// full Store.
type EdgeStore interface {
	GetOutgoingEdges(ctx context.Context, spanID string, kinds []store.EdgeKind) ([]*store.Edge, error)
	GetIncomingEdges(ctx context.Context, spanID string, kinds []store.EdgeKind) ([]*store.Edge, error)
}

// Direction records which side of an edge the queried span sat on.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Neighbor pairs an edge with the span on its far side from the node
// that was queried, so callers don't need to branch on direction to
// find "the other end".
type Neighbor struct {
	Edge        *store.Edge
	OtherSpanID string
	Direction   Direction
}

// Adjacency answers "who is connected to this span" queries, merging
// outgoing and incoming edges into one deterministically ordered list.
type Adjacency struct {
	store EdgeStore
}

// New returns an Adjacency backed by store.
func New(s EdgeStore) *Adjacency {
	return &Adjacency{store: s}
}

// Neighbors returns every edge touching spanID (as either endpoint),
// filtered to kinds (all kinds if empty), ordered by confidence
// descending, then by the other endpoint's span id ascending, then by
// kind ascending. This merge preserves the per-direction ordering
// guarantee the Store already provides while giving Traversal a single
// deterministic list to charge against its budget in order.
func (a *Adjacency) Neighbors(ctx context.Context, spanID string, kinds []store.EdgeKind) ([]Neighbor, error) {
	out, err := a.store.GetOutgoingEdges(ctx, spanID, kinds)
	if err != nil {
		return nil, err
	}
	in, err := a.store.GetIncomingEdges(ctx, spanID, kinds)
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(out)+len(in))
	for _, e := range out {
		neighbors = append(neighbors, Neighbor{Edge: e, OtherSpanID: e.TargetSpanID, Direction: DirectionOutgoing})
	}
	for _, e := range in {
		neighbors = append(neighbors, Neighbor{Edge: e, OtherSpanID: e.SourceSpanID, Direction: DirectionIncoming})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Edge.Confidence != neighbors[j].Edge.Confidence {
			return neighbors[i].Edge.Confidence > neighbors[j].Edge.Confidence
		}
		if neighbors[i].OtherSpanID != neighbors[j].OtherSpanID {
			return neighbors[i].OtherSpanID < neighbors[j].OtherSpanID
		}
		return neighbors[i].Edge.Kind < neighbors[j].Edge.Kind
	})
	return neighbors, nil
}
