package assembler

import (
	"time"

	"github.com/Aman-CERP/ctxengine/internal/bundle"
	"github.com/Aman-CERP/ctxengine/internal/evidence"
	"github.com/Aman-CERP/ctxengine/internal/stopreasons"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// buildWhy assembles the provenance shown for one packed item: its
// seed relevance, the graph edges that pulled it in (if any), and its
// paired test path when one was packed alongside it.
func buildWhy(c *Candidate, level Level) bundle.Why {
	why := bundle.Why{Seed: c.relevance}
	if len(c.IncomingEdges) > 0 {
		why.Edges = edgeWhy(c.IncomingEdges, c.Span.ID)
	}
	if level == LevelImplementation && c.TestSpan != nil {
		why.Test = c.TestSpan.Path
	}
	return why
}

// evidenceFor derives the Evidence record for one packed item.
func evidenceFor(it *packedItem) *evidence.Evidence {
	c := it.candidate
	reason := evidence.ReasonGraphExpansion
	if c.IsSeed {
		reason = evidence.ReasonSeed
	}
	e := evidence.New(c.Span.Path, c.Span.Name, reason)
	if c.TestSpan != nil {
		e.AddReason(evidence.ReasonTestOf)
	}
	switch c.EdgeType {
	case store.EdgeKindRoutes:
		e.AddReason(evidence.ReasonRoutesTarget)
	case store.EdgeKindConfigKey:
		e.AddReason(evidence.ReasonConfigKey)
	}
	e.EdgeType = c.EdgeType
	e.Rank = c.Rank
	e.Score = c.relevance
	e.Cached = c.Cached
	e.Lanes = evidence.LaneMask{Lexical: c.Lanes.Lexical, Vector: c.Lanes.Vector, Rerank: c.Lanes.Reranked}
	return e
}

// buildBundle assembles the final wire bundle from packed items and
// accumulated stop reasons.
func buildBundle(req Request, packed []*packedItem, stops []stopreasons.StopReason, tokensUsed int, satisfied bool, reason string, start time.Time) bundle.Bundle {
	items := make([]bundle.Item, 0, len(packed))
	var ev []bundle.EvidenceEntry
	for _, it := range packed {
		items = append(items, bundle.Item{
			File:  it.candidate.Span.Path,
			Spans: it.spans,
			Level: int(it.level),
			Why:   it.why,
		})
		ev = append(ev, bundle.FromEvidence(evidenceFor(it))...)
	}

	summary := stopreasons.NewSummary(stops, tokensUsed, time.Since(start).Milliseconds())
	stopping := make([]bundle.StoppingReason, 0, len(stops))
	for _, s := range stops {
		stopping = append(stopping, bundle.FromStopReason(s, summary.Recommendations))
	}

	return bundle.Bundle{
		BundleID: bundle.NewID(start),
		Query:    req.Query,
		TokenReport: bundle.TokenReport{
			Budget:  req.TokenBudget,
			EstUsed: tokensUsed,
			Actual:  tokensUsed,
			Model:   req.Model,
		},
		Items:           items,
		Satisfied:       satisfied,
		Reason:          reason,
		StoppingReasons: stopping,
		Evidence:        ev,
	}
}
