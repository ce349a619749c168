// Package learner implements C9: offline weight optimization from
// served-bundle feedback. It extracts a scalar signal from each
// recorded interaction, deduplicates repeated observations of the
// same bundle via a signature cache, and runs projected gradient
// ascent over the Retriever's lane weights and the Assembler's graph-
// confidence blend factor, swapping the result into Policy only when
// it validates.
package learner

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/ctxengine/internal/policy"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// Default tuning constants for the optimization loop.
const (
	DefaultLearningRate  = 0.05
	DefaultMaxIterations = 50
	DefaultConvergence   = 1e-3
	// DefaultRRFConstant mirrors internal/retriever's RRF smoothing
	// constant k, so a candidate's score under a trial w is computed
	// with the same w/(k+rank) shape the Retriever actually scores with.
	DefaultRRFConstant = 60
)

// Config holds the tunable coefficients for signal extraction and the
// optimizer's step size, iteration cap, and convergence threshold.
type Config struct {
	SatisfactionWeight float64
	EngagementWeight   float64
	LearningRate       float64
	MaxIterations      int
	Convergence        float64
	// RRFConstant is the k used to score a stored candidate set's items
	// under a trial weight vector while evaluating the rank-regression
	// loss. Defaults to DefaultRRFConstant (0 is treated as unset).
	RRFConstant int
}

// DefaultConfig returns the Learner's default tuning.
func DefaultConfig() Config {
	return Config{
		SatisfactionWeight: DefaultSatisfactionWeight,
		EngagementWeight:   DefaultEngagementWeight,
		LearningRate:       DefaultLearningRate,
		MaxIterations:      DefaultMaxIterations,
		Convergence:        DefaultConvergence,
		RRFConstant:        DefaultRRFConstant,
	}
}

// CandidateItem is one item of a served bundle's stored candidate set:
// its rank (if any) in each lane, and whether it was among the items
// actually selected into the bundle returned to the caller.
type CandidateItem struct {
	ChunkID     string
	LexicalRank int // 1-indexed, 0 if absent from the lexical lane
	VectorRank  int // 1-indexed, 0 if absent from the vector lane
	GraphRank   int // 1-indexed traversal order, 0 if not graph-sourced
	Selected    bool
}

// Feedback is one (bundle, outcome) observation the Learner can learn
// from: the interaction's recorded outcome plus enough of the served
// bundle's composition to attribute the resulting signal back to the
// tunable policy that produced it.
type Feedback struct {
	Interaction *store.Interaction
	// SpanIDs are the spans included in the served bundle, used with
	// PolicyVersion/PolicyHash to compute the bundle's signature.
	SpanIDs       []string
	PolicyVersion int
	PolicyHash    string
	// Candidates is the bundle's stored candidate set, with each item's
	// per-lane rank and whether it was selected — the data
	// predicted_rank_score needs to re-score under a trial w. When nil,
	// it is synthesized from LexicalCount/VectorCount/GraphCount (see
	// candidateSetFromCounts) since Store persists only those per-bundle
	// counts, not each item's individual lane rank.
	Candidates []CandidateItem
	// LexicalCount, VectorCount, and GraphCount partition the bundle's
	// items by which lane or mechanism contributed them. Used only when
	// Candidates is nil.
	LexicalCount int
	VectorCount  int
	GraphCount   int
}

// candidateSetFromCounts synthesizes a per-item candidate set from a
// bundle's per-lane item counts, for Feedback that only carries the
// counts Store actually persists rather than each item's individual
// lane rank. Each lane's contribution becomes a contiguous block of
// that many items ranked 1..count within that lane alone; every
// synthesized item is marked Selected, since every item counted here
// was part of the bundle returned to the caller.
func candidateSetFromCounts(lexical, vector, graphCount int) []CandidateItem {
	items := make([]CandidateItem, 0, lexical+vector+graphCount)
	for i := 0; i < lexical; i++ {
		items = append(items, CandidateItem{LexicalRank: i + 1, Selected: true})
	}
	for i := 0; i < vector; i++ {
		items = append(items, CandidateItem{VectorRank: i + 1, Selected: true})
	}
	for i := 0; i < graphCount; i++ {
		items = append(items, CandidateItem{GraphRank: i + 1, Selected: true})
	}
	return items
}

// Learner ties signal extraction, the signature cache, and the
// projected-gradient optimizer to a Policy Store.
type Learner struct {
	cfg   Config
	cache *SignatureCache
	pol   *policy.Store
	log   *slog.Logger
}

// New returns a Learner. log may be nil, in which case slog.Default() is used.
func New(cfg Config, p *policy.Store, log *slog.Logger) *Learner {
	if log == nil {
		log = slog.Default()
	}
	return &Learner{cfg: cfg, cache: NewSignatureCache(), pol: p, log: log}
}

type aggregatedSample struct {
	signal       float64
	observations int
	candidates   []CandidateItem
}

// Optimize folds a batch of feedback into the signature cache, builds
// the lane-weight and lambda objectives from the resulting deduplicated
// samples, runs projected gradient ascent for each, and swaps the
// result into Policy if (and only if) it validates. A batch that
// produces no usable samples, or an optimization that yields
// non-finite values, is a no-op: the previous snapshot is retained and
// the reason logged, never propagated as an error to the caller.
func (l *Learner) Optimize(ctx context.Context, feedback []Feedback) error {
	samples := l.aggregate(feedback)
	if len(samples) == 0 {
		return nil
	}

	snap := l.pol.Current()
	k := l.cfg.RRFConstant
	if k <= 0 {
		k = DefaultRRFConstant
	}

	laneObjective := buildLaneObjective(samples, snap.Lambda, k)
	w0 := []float64{snap.BM25Weight, snap.VectorWeight}
	w, laneIters, laneConverged := ProjectedGradientAscent(w0, laneObjective, ProjectSimplex, l.cfg.LearningRate, l.cfg.MaxIterations, l.cfg.Convergence)
	if hasInvalid(w) {
		l.log.Warn("learner: lane weight optimization produced non-finite values, retaining previous weights")
		w = w0
	}

	lambdaObjective := buildLambdaObjective(samples, w[0], w[1], k)
	lam0 := []float64{snap.Lambda}
	lam, lamIters, lamConverged := ProjectedGradientAscent(lam0, lambdaObjective, ProjectNonNegative, l.cfg.LearningRate, l.cfg.MaxIterations, l.cfg.Convergence)
	if hasInvalid(lam) {
		l.log.Warn("learner: lambda optimization produced non-finite values, retaining previous lambda")
		lam = lam0
	}

	next := snap
	next.BM25Weight = w[0]
	next.VectorWeight = w[1]
	next.Lambda = lam[0]

	if err := policy.Validate(next); err != nil {
		l.log.Warn("learner: optimized snapshot failed validation, retaining previous policy", "error", err)
		return nil
	}

	updated := l.pol.Swap(next)
	l.log.Info("learner: policy updated",
		"version", updated.Version,
		"bm25_weight", updated.BM25Weight,
		"vector_weight", updated.VectorWeight,
		"lambda", updated.Lambda,
		"samples", len(samples),
		"lane_iterations", laneIters,
		"lane_converged", laneConverged,
		"lambda_iterations", lamIters,
		"lambda_converged", lamConverged,
	)
	return nil
}

// aggregate folds feedback into the signature cache and returns one
// aggregatedSample per distinct bundle signature observed this batch,
// in first-seen order (for determinism).
func (l *Learner) aggregate(feedback []Feedback) []*aggregatedSample {
	bySignature := make(map[string]*aggregatedSample)
	order := make([]string, 0, len(feedback))

	for _, fb := range feedback {
		if fb.Interaction == nil {
			continue
		}
		signal := ExtractSignal(fb.Interaction, l.cfg.SatisfactionWeight, l.cfg.EngagementWeight).Value
		sig := store.BundleSignature(fb.SpanIDs, fb.PolicyVersion, fb.PolicyHash)
		mean, observations := l.cache.Record(sig, signal)

		candidates := fb.Candidates
		if candidates == nil {
			candidates = candidateSetFromCounts(fb.LexicalCount, fb.VectorCount, fb.GraphCount)
		}

		agg, ok := bySignature[sig]
		if !ok {
			agg = &aggregatedSample{}
			bySignature[sig] = agg
			order = append(order, sig)
		}
		agg.signal = mean
		agg.observations = observations
		agg.candidates = candidates
	}

	samples := make([]*aggregatedSample, 0, len(order))
	for _, sig := range order {
		samples = append(samples, bySignature[sig])
	}
	return samples
}

// buildLaneObjective returns the Objective gradient ascent climbs to
// minimize the rank-regression loss L(w) = mean((predicted_rank_score(w)
// - label)^2) over w = (lexical weight, vector weight), holding lambda
// fixed at the current snapshot's value. Since predicted_rank_score
// re-sorts each sample's stored candidate set, L has no closed-form
// gradient; it is estimated by central finite differences, then negated
// so that ascent on this Objective is exactly descent on L (w <- w -
// eta*gradL, per spec.md's update rule).
func buildLaneObjective(samples []*aggregatedSample, lambda float64, k int) Objective {
	loss := func(w []float64) float64 {
		return rankRegressionLoss(samples, w[0], w[1], lambda, k)
	}
	return func(w []float64) (float64, []float64) {
		return -loss(w), negGradientFD(loss, w)
	}
}

// buildLambdaObjective mirrors buildLaneObjective for the single
// graph-confidence blend factor lambda, holding the lane weights fixed
// at their just-optimized values (lane and lambda are optimized as two
// sequential sub-problems of the same L(w), not one joint vector — see
// DESIGN.md).
func buildLambdaObjective(samples []*aggregatedSample, lexW, vecW float64, k int) Objective {
	loss := func(w []float64) float64 {
		return rankRegressionLoss(samples, lexW, vecW, w[0], k)
	}
	return func(w []float64) (float64, []float64) {
		return -loss(w), negGradientFD(loss, w)
	}
}
