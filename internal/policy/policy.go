// Package policy holds the process-wide, versioned, read-mostly tuning
// state that the Retriever, Traversal, and Assembler consult on every
// request: lane weights, the graph-confidence blend factor, quality
// thresholds, early-stop toggles, candidate caps, and traversal
// sub-budgets. Updates are atomic copy-on-write swaps so readers never
// observe a torn snapshot.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
)

// Snapshot is one immutable version of tunable policy. Every field the
// Retriever/Assembler/Traversal read at request time lives here so a
// single atomic swap changes all of them together.
type Snapshot struct {
	Version int

	BM25Weight   float64
	VectorWeight float64
	RRFConstant  int

	// Lambda blends graph-confidence into the Assembler's relevance
	// score: score = fused_retriever_score + Lambda*best_incoming_confidence.
	Lambda float64

	QualityThreshold float64
	MaxCandidates    int

	EarlyStopEnabled bool
	IncludeTests     bool
	VerboseComments  bool
	RerankEnabled    bool

	TraversalBudgetFraction float64
	TraversalBudgetCeiling  int

	// BudgetWarningRatio is the fraction of the token budget consumed
	// that triggers a BUDGET_WARNING stop reason rather than silence;
	// zero disables the check (the zero-value Snapshot used by tests
	// that don't care about it).
	BudgetWarningRatio float64
}

// Hash returns a stable fingerprint of the snapshot's tunable values,
// fed into bundle signatures so a weight change invalidates any cached
// result computed under a stale policy.
func (s Snapshot) Hash() string {
	// encoding/json over the exported fields in declaration order gives
	// a deterministic byte sequence for an unchanging struct shape.
	b, err := json.Marshal(s)
	if err != nil {
		// Snapshot contains only plain numeric/bool fields; marshaling
		// cannot fail for this shape.
		panic(fmt.Sprintf("policy: snapshot is not marshalable: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Default returns the snapshot seeded from a fresh Config, i.e. the
// policy in effect before any Learner-driven update has ever run.
func Default(bm25Weight, vectorWeight float64, rrfConstant int, lambda, qualityThreshold float64, maxCandidates int, traversalBudgetFraction float64, traversalBudgetCeiling int) Snapshot {
	return Snapshot{
		Version:                 1,
		BM25Weight:              bm25Weight,
		VectorWeight:            vectorWeight,
		RRFConstant:             rrfConstant,
		Lambda:                  lambda,
		QualityThreshold:        qualityThreshold,
		MaxCandidates:           maxCandidates,
		EarlyStopEnabled:        true,
		IncludeTests:            true,
		VerboseComments:         false,
		RerankEnabled:           true,
		TraversalBudgetFraction: traversalBudgetFraction,
		TraversalBudgetCeiling:  traversalBudgetCeiling,
	}
}

// Store holds the current Snapshot behind an atomic.Pointer so reads
// never block writers and writers never block readers.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a Store seeded with initial.
func NewStore(initial Snapshot) *Store {
	s := &Store{}
	s.current.Store(&initial)
	return s
}

// Current returns the active snapshot. The returned value is a copy
// taken at call time; callers never observe a partially-updated policy.
func (s *Store) Current() Snapshot {
	p := s.current.Load()
	if p == nil {
		panic("policy: Store used before NewStore")
	}
	return *p
}

// Swap atomically replaces the active snapshot, bumping Version so
// readers and bundle signatures can detect the change. next's Version
// field is overwritten with current version + 1; callers should not
// set it themselves.
func (s *Store) Swap(next Snapshot) Snapshot {
	next.Version = s.Current().Version + 1
	s.current.Store(&next)
	return next
}

// Validate checks a snapshot's constraints: weights sum to ~1,
// thresholds and fractions are in range. Returns a config error
// describing the first violation found.
func Validate(s Snapshot) error {
	const epsilon = 1e-6
	if sum := s.BM25Weight + s.VectorWeight; sum < 1-epsilon || sum > 1+epsilon {
		return ctxerrors.ConfigError(fmt.Sprintf("bm25_weight + vector_weight must sum to 1.0, got %f", sum), nil)
	}
	if s.Lambda < 0 {
		return ctxerrors.ConfigError("lambda must be >= 0", nil)
	}
	if s.QualityThreshold < 0 || s.QualityThreshold > 1 {
		return ctxerrors.ConfigError("quality_threshold must be in [0,1]", nil)
	}
	if s.MaxCandidates <= 0 {
		return ctxerrors.ConfigError("max_candidates must be > 0", nil)
	}
	if s.TraversalBudgetFraction <= 0 || s.TraversalBudgetFraction > 1 {
		return ctxerrors.ConfigError("traversal_budget_fraction must be in (0,1]", nil)
	}
	return nil
}
