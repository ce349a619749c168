package policy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSnapshot() Snapshot {
	return Default(0.6, 0.4, 60, 0.2, 0.5, 50, 0.3, 4000)
}

func TestStore_CurrentReturnsSeededSnapshot(t *testing.T) {
	s := NewStore(defaultSnapshot())
	got := s.Current()
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, 0.6, got.BM25Weight)
}

func TestStore_SwapBumpsVersionAndIsVisibleImmediately(t *testing.T) {
	s := NewStore(defaultSnapshot())
	next := defaultSnapshot()
	next.BM25Weight = 0.7
	next.VectorWeight = 0.3

	swapped := s.Swap(next)
	assert.Equal(t, 2, swapped.Version)

	got := s.Current()
	assert.Equal(t, 0.7, got.BM25Weight)
	assert.Equal(t, 2, got.Version)
}

func TestStore_ConcurrentReadsDuringSwapNeverPanic(t *testing.T) {
	s := NewStore(defaultSnapshot())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Current()
		}()
	}
	next := defaultSnapshot()
	next.Lambda = 0.5
	s.Swap(next)
	wg.Wait()
}

func TestHash_ChangesWhenTunablesChange(t *testing.T) {
	a := defaultSnapshot()
	b := defaultSnapshot()
	b.Lambda = 0.9

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHash_StableForIdenticalSnapshot(t *testing.T) {
	a := defaultSnapshot()
	b := defaultSnapshot()
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestValidate_RejectsWeightsNotSummingToOne(t *testing.T) {
	s := defaultSnapshot()
	s.VectorWeight = 0.1 // 0.6 + 0.1 != 1.0
	require.Error(t, Validate(s))
}

func TestValidate_RejectsOutOfRangeQualityThreshold(t *testing.T) {
	s := defaultSnapshot()
	s.QualityThreshold = 1.5
	require.Error(t, Validate(s))
}

func TestValidate_AcceptsDefault(t *testing.T) {
	require.NoError(t, Validate(defaultSnapshot()))
}
