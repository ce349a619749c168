package learner

import (
	"math"
	"sort"
)

// Objective evaluates the tuning objective's value and gradient at w.
type Objective func(w []float64) (value float64, grad []float64)

// Projector maps an unconstrained point back onto the feasible set
// after a gradient step.
type Projector func(w []float64) []float64

// ProjectedGradientAscent runs up to maxIterations of fixed-learning-
// rate gradient ascent (the Learner's objectives are the negated
// rank-regression loss, so ascent here is descent on that loss),
// projecting back onto the feasible set after every
// step, and stops early once a step's infinity-norm delta falls under
// convergence. Returns the final point, iterations actually run, and
// whether it converged before exhausting maxIterations.
func ProjectedGradientAscent(w0 []float64, obj Objective, project Projector, learningRate float64, maxIterations int, convergence float64) ([]float64, int, bool) {
	w := append([]float64(nil), w0...)
	for iter := 0; iter < maxIterations; iter++ {
		_, grad := obj(w)
		next := make([]float64, len(w))
		for i := range w {
			next[i] = w[i] + learningRate*grad[i]
		}
		next = project(next)

		var maxDelta float64
		for i := range w {
			if d := math.Abs(next[i] - w[i]); d > maxDelta {
				maxDelta = d
			}
		}
		w = next
		if maxDelta < convergence {
			return w, iter + 1, true
		}
	}
	return w, maxIterations, false
}

// ProjectSimplex projects v onto {x : x_i >= 0, sum(x) = 1} via the
// standard sort-and-threshold algorithm (Held, Wolfe & Crowder 1974).
func ProjectSimplex(v []float64) []float64 {
	n := len(v)
	u := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	var cumsum float64
	rho := -1
	var rhoCumsum float64
	for i := 0; i < n; i++ {
		cumsum += u[i]
		t := (cumsum - 1) / float64(i+1)
		if u[i]-t > 0 {
			rho = i
			rhoCumsum = cumsum
		}
	}
	if rho < 0 {
		// v was entirely non-positive; the closest feasible point is
		// the uniform distribution.
		out := make([]float64, n)
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}
	theta := (rhoCumsum - 1) / float64(rho+1)
	out := make([]float64, n)
	for i, x := range v {
		out[i] = math.Max(x-theta, 0)
	}
	return out
}

// ProjectNonNegative clips every component of v to be >= 0, for
// parameters (like Lambda) that are bounded below but not constrained
// to sum to anything.
func ProjectNonNegative(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Max(x, 0)
	}
	return out
}

func hasInvalid(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

// gradientEpsilon is the finite-difference step used to estimate
// d(loss)/dw_i, since predicted_rank_score re-sorts its candidate set
// under w and so has no closed-form derivative.
const gradientEpsilon = 1e-3

// candidateScore is the RRF-shaped score a CandidateItem gets under
// trial weights (lexW, vecW, lambda): the same w/(k+rank) shape
// internal/retriever's Fuse scores a lane hit with, applied per-lane to
// whichever lanes the item has a rank in (lambda plays the graph lane's
// role, crediting traversal-discovered items by their discovery order).
func candidateScore(c CandidateItem, lexW, vecW, lambda float64, k int) float64 {
	var s float64
	if c.LexicalRank > 0 {
		s += lexW / float64(k+c.LexicalRank)
	}
	if c.VectorRank > 0 {
		s += vecW / float64(k+c.VectorRank)
	}
	if c.GraphRank > 0 {
		s += lambda / float64(k+c.GraphRank)
	}
	return s
}

// predictedRankScore re-scores candidates under (lexW, vecW, lambda),
// ranks them by that score descending, and returns the mean normalized
// rank (1.0 = ranked first, 0.0 = ranked last) of the items actually
// selected into the served bundle — spec.md's "normalized rank of the
// actually-selected items under w on the stored candidate sets".
func predictedRankScore(candidates []CandidateItem, lexW, vecW, lambda float64, k int) float64 {
	n := len(candidates)
	if n == 0 {
		return 0
	}

	scores := make([]float64, n)
	order := make([]int, n)
	for i, c := range candidates {
		scores[i] = candidateScore(c, lexW, vecW, lambda, k)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	rank := make([]int, n)
	for pos, idx := range order {
		rank[idx] = pos + 1
	}

	var sum float64
	var selected int
	for i, c := range candidates {
		if !c.Selected {
			continue
		}
		selected++
		if n > 1 {
			sum += 1 - float64(rank[i]-1)/float64(n-1)
		} else {
			sum += 1
		}
	}
	if selected == 0 {
		return 0
	}
	return sum / float64(selected)
}

// rankRegressionLoss is L(w) = mean((predicted_rank_score(w) - label)^2)
// over every sample whose candidate set is non-empty.
func rankRegressionLoss(samples []*aggregatedSample, lexW, vecW, lambda float64, k int) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if len(s.candidates) == 0 {
			continue
		}
		d := predictedRankScore(s.candidates, lexW, vecW, lambda, k) - s.signal
		sum += d * d
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// negGradientFD estimates -grad(loss)(w) by central finite differences,
// one coordinate at a time: exactly the gradient ascent step needs to
// implement descent on loss via w <- w + lr*(-grad(loss)) = w -
// lr*grad(loss).
func negGradientFD(loss func([]float64) float64, w []float64) []float64 {
	grad := make([]float64, len(w))
	trial := append([]float64(nil), w...)
	for i := range w {
		trial[i] = w[i] + gradientEpsilon
		up := loss(trial)
		trial[i] = w[i] - gradientEpsilon
		down := loss(trial)
		trial[i] = w[i]
		grad[i] = -(up - down) / (2 * gradientEpsilon)
	}
	return grad
}
