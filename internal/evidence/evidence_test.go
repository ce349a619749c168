package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

func TestAddReason_IsAdditiveAndDeduplicates(t *testing.T) {
	ev := New("pkg/auth.go", "Login", ReasonSeed)
	ev.AddReason(ReasonTestOf)
	ev.AddReason(ReasonSeed) // duplicate, should not grow the slice

	assert.Len(t, ev.Reasons, 2)
	assert.True(t, ev.HasReason(ReasonSeed))
	assert.True(t, ev.HasReason(ReasonTestOf))
	assert.False(t, ev.HasReason(ReasonRoutesTarget))
}

func TestEvidence_CarriesEdgeTypeAndLanes(t *testing.T) {
	ev := New("pkg/auth.go", "Login", ReasonGraphExpansion)
	ev.EdgeType = store.EdgeKindCall
	ev.Lanes = LaneMask{Lexical: true, Vector: false, Rerank: true}
	ev.Score = 0.82
	ev.Rank = 3

	assert.Equal(t, store.EdgeKindCall, ev.EdgeType)
	assert.True(t, ev.Lanes.Lexical)
	assert.False(t, ev.Lanes.Vector)
	assert.Equal(t, 0.82, ev.Score)
}
