package assembler

import "github.com/Aman-CERP/ctxengine/internal/tokenizer"

// packOne attempts to include c in the bundle, trying its initial
// level and degrading one rung at a time (Implementation -> Definition
// -> Capsule) until the rendered content fits budget, or failing
// entirely if even Capsule does not fit.
func packOne(tok tokenizer.Tokenizer, c *Candidate, budget int, model string, includeTests bool) (*packedItem, int, bool) {
	for level := startLevel(c.IsSeed, c.Span.Kind); level >= LevelCapsule; level-- {
		content, spans := levelContent(c, level, includeTests)
		cost := tok.CountTyped(content, model, contentTypeFor(c, level))
		if cost <= budget {
			why := buildWhy(c, level)
			return &packedItem{candidate: c, level: level, content: content, spans: spans, why: why}, cost, true
		}
	}
	return nil, 0, false
}
