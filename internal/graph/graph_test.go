package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

type fakeEdgeStore struct {
	outgoing map[string][]*store.Edge
	incoming map[string][]*store.Edge
}

func (f *fakeEdgeStore) GetOutgoingEdges(_ context.Context, spanID string, kinds []store.EdgeKind) ([]*store.Edge, error) {
	return filterKinds(f.outgoing[spanID], kinds), nil
}

func (f *fakeEdgeStore) GetIncomingEdges(_ context.Context, spanID string, kinds []store.EdgeKind) ([]*store.Edge, error) {
	return filterKinds(f.incoming[spanID], kinds), nil
}

func filterKinds(edges []*store.Edge, kinds []store.EdgeKind) []*store.Edge {
	if len(kinds) == 0 {
		return edges
	}
	allowed := make(map[store.EdgeKind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	var out []*store.Edge
	for _, e := range edges {
		if _, ok := allowed[e.Kind]; ok {
			out = append(out, e)
		}
	}
	return out
}

func TestNeighbors_MergesAndOrdersByConfidenceThenOtherID(t *testing.T) {
	fake := &fakeEdgeStore{
		outgoing: map[string][]*store.Edge{
			"a": {
				{SourceSpanID: "a", TargetSpanID: "z", Kind: store.EdgeKindCall, Confidence: 0.5},
				{SourceSpanID: "a", TargetSpanID: "b", Kind: store.EdgeKindCall, Confidence: 0.9},
			},
		},
		incoming: map[string][]*store.Edge{
			"a": {
				{SourceSpanID: "c", TargetSpanID: "a", Kind: store.EdgeKindImport, Confidence: 0.9},
			},
		},
	}

	adj := New(fake)
	neighbors, err := adj.Neighbors(context.Background(), "a", nil)
	require.NoError(t, err)
	require.Len(t, neighbors, 3)

	// Both confidence-0.9 edges precede the 0.5 one; among the 0.9
	// pair, "b" sorts before "c" by OtherSpanID.
	assert.Equal(t, "b", neighbors[0].OtherSpanID)
	assert.Equal(t, "c", neighbors[1].OtherSpanID)
	assert.Equal(t, "z", neighbors[2].OtherSpanID)
	assert.Equal(t, DirectionOutgoing, neighbors[0].Direction)
	assert.Equal(t, DirectionIncoming, neighbors[1].Direction)
}

func TestNeighbors_FiltersByKind(t *testing.T) {
	fake := &fakeEdgeStore{
		outgoing: map[string][]*store.Edge{
			"a": {
				{SourceSpanID: "a", TargetSpanID: "b", Kind: store.EdgeKindCall, Confidence: 0.9},
				{SourceSpanID: "a", TargetSpanID: "c", Kind: store.EdgeKindImport, Confidence: 0.9},
			},
		},
	}

	adj := New(fake)
	neighbors, err := adj.Neighbors(context.Background(), "a", []store.EdgeKind{store.EdgeKindCall})
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "b", neighbors[0].OtherSpanID)
}

func TestNeighbors_EmptyWhenNoEdges(t *testing.T) {
	fake := &fakeEdgeStore{}
	adj := New(fake)
	neighbors, err := adj.Neighbors(context.Background(), "lonely", nil)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
