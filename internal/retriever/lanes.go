package retriever

import (
	"context"
	"math"
	"sync"

	"github.com/coder/hnsw"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
)

// Lane identifies which retrieval pathway produced a candidate.
type Lane string

const (
	LaneLexical Lane = "lexical"
	LaneVector  Lane = "vector"
)

// LaneHit is one result from a single lane, before fusion.
type LaneHit struct {
	ChunkID string
	Score   float64
}

// VectorIndex is a nearest-neighbor index over chunk embeddings for one
// model. A chunk with no embedding for the active model is simply
// absent from search results rather than an error condition
// (spec.md Â§4.3's "embedding absence degrades to lexical-only").
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	idMap  map[string]uint64
	keyMap map[uint64]string
	next   uint64
}

// NewVectorIndex builds an empty cosine-distance HNSW index, mirroring
// the parameters the teacher's store package used for its HNSW graph.
func NewVectorIndex() *VectorIndex {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return &VectorIndex{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Upsert adds or replaces the vector for chunkID. Replacing an existing
// id uses lazy deletion (orphan the old key rather than delete it from
// the graph), since coder/hnsw has a known issue deleting its last
// remaining node.
func (v *VectorIndex) Upsert(chunkID string, vector []float32) error {
	if len(vector) == 0 {
		return ctxerrors.InternalError("empty vector for chunk "+chunkID, nil)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if existingKey, ok := v.idMap[chunkID]; ok {
		delete(v.keyMap, existingKey)
		delete(v.idMap, chunkID)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeInPlace(vec)

	key := v.next
	v.next++
	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[chunkID] = key
	v.keyMap[key] = chunkID
	return nil
}

// Delete lazily removes chunkID's vector (orphans its key rather than
// mutating the graph), matching teacher's lazy-deletion precedent.
func (v *VectorIndex) Delete(chunkID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if key, ok := v.idMap[chunkID]; ok {
		delete(v.keyMap, key)
		delete(v.idMap, chunkID)
	}
}

// Search returns up to k nearest chunks to query, scored so higher is
// better (cosine similarity in [0,1]), or (nil, nil) when the index is
// empty — an empty vector lane, not an error.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]LaneHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := v.graph.Search(q, k)
	hits := make([]LaneHit, 0, len(nodes))
	for _, n := range nodes {
		chunkID, ok := v.keyMap[n.Key]
		if !ok {
			continue
		}
		distance := v.graph.Distance(q, n.Value)
		hits = append(hits, LaneHit{ChunkID: chunkID, Score: float64(1.0 - distance/2.0)})
	}
	return hits, nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}
