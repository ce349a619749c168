package retriever

import (
	"math"
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter (k=60),
// used across retrieval systems such as Azure AI Search and OpenSearch.
const DefaultRRFConstant = 60

// FusedResult is a candidate after Reciprocal Rank Fusion across an
// arbitrary set of lanes.
type FusedResult struct {
	ChunkID      string
	RRFScore     float64
	LexicalRank  int // 1-indexed, 0 if absent from the lexical lane
	LexicalScore float64
	VectorRank   int // 1-indexed, 0 if absent from the vector lane
	VectorScore  float64
	InBothLanes  bool
}

// LaneWeights supplies the per-lane weight RRF uses, sourced from
// Policy rather than a fixed struct so new lanes can be added without
// changing this package's signature.
type LaneWeights struct {
	Lexical float64
	Vector  float64
}

// RRFFusion combines lane results with Reciprocal Rank Fusion:
// score(c) = sum over lanes L of w_L / (k_rrf + rank_L(c)).
type RRFFusion struct {
	K int
}

// NewRRFFusion returns an RRFFusion using k (or DefaultRRFConstant if
// k <= 0).
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse merges lexical and vector lane hits into a deterministically
// ordered fused result list. A candidate present in only one lane is
// charged the other lane's weight at missing_rank = max(len(lexical),
// len(vector)) + 1, so it isn't scored as if it had rank 0.
func (f *RRFFusion) Fuse(lexical, vector []LaneHit, weights LaneWeights) []*FusedResult {
	if len(lexical) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(lexical)+len(vector))
	getOrCreate := func(id string) *FusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &FusedResult{ChunkID: id}
		scores[id] = r
		return r
	}

	for rank, hit := range lexical {
		r := getOrCreate(hit.ChunkID)
		r.LexicalScore = hit.Score
		r.LexicalRank = rank + 1
		r.RRFScore += weights.Lexical / float64(f.K+rank+1)
	}
	for rank, hit := range vector {
		r := getOrCreate(hit.ChunkID)
		r.VectorScore = hit.Score
		r.VectorRank = rank + 1
		r.RRFScore += weights.Vector / float64(f.K+rank+1)
		if r.LexicalRank > 0 {
			r.InBothLanes = true
		}
	}

	missingRank := maxInt(len(lexical), len(vector)) + 1
	for _, r := range scores {
		if r.LexicalRank == 0 && r.VectorRank > 0 {
			r.RRFScore += weights.Lexical / float64(f.K+missingRank)
		}
		if r.VectorRank == 0 && r.LexicalRank > 0 {
			r.RRFScore += weights.Vector / float64(f.K+missingRank)
		}
	}

	results := make([]*FusedResult, 0, len(scores))
	for _, r := range scores {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return less(results[i], results[j]) })
	return results
}

// less orders fused results: higher RRF score first, then lexical rank
// ascending (absent-from-lexical-lane sorts last), then chunk id
// ascending. Teacher's own fusion broke ties with "present in both
// lanes" then "higher lexical score" instead of lexical rank; that
// chain doesn't match this package's contract and isn't reproduced here.
func less(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	ar, br := lexicalRankOrLast(a), lexicalRankOrLast(b)
	if ar != br {
		return ar < br
	}
	return a.ChunkID < b.ChunkID
}

// lexicalRankOrLast returns r.LexicalRank, or math.MaxInt when the
// candidate is absent from the lexical lane, so it sorts after every
// candidate that does have a lexical rank.
func lexicalRankOrLast(r *FusedResult) int {
	if r.LexicalRank == 0 {
		return math.MaxInt
	}
	return r.LexicalRank
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
