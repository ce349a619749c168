package assembler

import (
	"strings"

	"github.com/Aman-CERP/ctxengine/internal/bundle"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// contentTypeFor reports which fallback token rate a level's rendered
// text should use: signature/doc excerpts read as prose, full bodies
// keep the chunk's own content type (code, by default, for spans).
func contentTypeFor(c *Candidate, level Level) store.ContentType {
	if level == LevelImplementation || level == LevelFull {
		if c.Chunk != nil {
			return c.Chunk.ContentType
		}
		return store.ContentTypeCode
	}
	return store.ContentTypeText
}

// Level is one of the four progressive packing levels a candidate span
// can be included at, from cheapest to most complete.
type Level int

const (
	// LevelCapsule is a file path, signature, and the first line of the
	// span's doc comment.
	LevelCapsule Level = 1
	// LevelDefinition adds the nearest doc block to the signature.
	LevelDefinition Level = 2
	// LevelImplementation is the full span body (and, if requested and
	// available, its paired test span).
	LevelImplementation Level = 3
	// LevelFull is the entire enclosing file. Only module-kind spans
	// start here (see startLevel); no other span is raised to it.
	LevelFull Level = 4
)

// levelContent renders the text an item would occupy at level, for
// token charging, along with the byte spans the wire bundle.Item
// should reference at that level. content is never part of the wire
// contract itself (bundle.Item carries byte ranges, not text) but its
// size is what the packing budget actually bounds.
func levelContent(c *Candidate, level Level, includeTests bool) (content string, spans []bundle.Span) {
	sp := c.Span
	switch level {
	case LevelCapsule:
		var b strings.Builder
		b.WriteString(sp.Path)
		b.WriteByte('\n')
		b.WriteString(sp.Signature)
		if doc := firstLine(sp.Doc); doc != "" {
			b.WriteByte('\n')
			b.WriteString(doc)
		}
		return b.String(), []bundle.Span{{sp.ByteStart, sp.ByteEnd}}

	case LevelDefinition:
		var b strings.Builder
		b.WriteString(sp.Signature)
		if sp.Doc != "" {
			b.WriteByte('\n')
			b.WriteString(sp.Doc)
		}
		return b.String(), []bundle.Span{{sp.ByteStart, sp.ByteEnd}}

	case LevelImplementation:
		body := sp.Signature
		if c.Chunk != nil {
			body = c.Chunk.Content
		}
		spans = []bundle.Span{{sp.ByteStart, sp.ByteEnd}}
		if includeTests && c.TestSpan != nil {
			testBody := c.TestSpan.Signature
			if c.TestChunk != nil {
				testBody = c.TestChunk.Content
			}
			body = body + "\n" + testBody
			spans = append(spans, bundle.Span{c.TestSpan.ByteStart, c.TestSpan.ByteEnd})
		}
		return body, spans

	case LevelFull:
		if c.FileChunk != nil {
			return c.FileChunk.Content, []bundle.Span{{0, len(c.FileChunk.Content)}}
		}
		// No whole-file chunk available; fall back to the
		// implementation-level content rather than dropping the item.
		return levelContent(c, LevelImplementation, includeTests)
	}
	return "", nil
}

// firstLine returns the first non-empty line of s, trimmed.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// startLevel picks the level a candidate is first attempted at, before
// any budget-driven degradation: a seed (a direct retrieval match) is
// worth its full implementation; a span reached only via graph
// expansion is context, so it starts one rung down. A module-kind
// span has no useful "implementation" of its own — the whole file is
// the unit that answers a query about it — so it starts at Full.
func startLevel(isSeed bool, kind store.SpanKind) Level {
	if kind == store.SpanKindModule {
		return LevelFull
	}
	if isSeed {
		return LevelImplementation
	}
	return LevelDefinition
}

// edgeWhy converts the incoming edges recorded against a candidate
// into the bundle's Why.Edges form.
func edgeWhy(edges []*store.Edge, targetSpanID string) []bundle.EdgeWhy {
	var out []bundle.EdgeWhy
	for _, e := range edges {
		if e.TargetSpanID != targetSpanID {
			continue
		}
		out = append(out, bundle.EdgeWhy{
			Kind:       string(e.Kind),
			Target:     e.SourceSpanID,
			Confidence: e.Confidence,
			Weight:     e.Confidence,
		})
	}
	return out
}
