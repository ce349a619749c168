// Package tokenizer provides model-aware token counting for budget
// admission decisions. Every lane that charges against a token budget
// (assembler packing, traversal frontier expansion) must go through a
// Tokenizer rather than estimate independently, so that two callers
// counting the same text under the same model always agree.
package tokenizer

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	ctxerrors "github.com/Aman-CERP/ctxengine/internal/errors"
	"github.com/Aman-CERP/ctxengine/internal/store"
)

// tokensPerCharProse mirrors amanmcp's chunker constant: a rough
// approximation of 4 characters per token for natural-language text.
const tokensPerCharProse = 4

// tokensPerCharCode is tighter than prose since identifiers, operators,
// and punctuation fragment more densely under BPE than English words.
const tokensPerCharCode = 3

// Tokenizer counts tokens for a given model, falling back to a
// deterministic byte-based estimator when the model's BPE tables are
// unavailable. count_json marshals first so object shape participates
// in the count, matching how an assembled bundle is ultimately charged.
type Tokenizer interface {
	Count(text string, model string) int
	CountJSON(value any, model string) (int, error)
	// CountTyped counts text known to be of a given content type,
	// using the matching fallback rate when the model lookup misses.
	CountTyped(text string, model string, kind store.ContentType) int
}

// BPETokenizer is backed by tiktoken-go's BPE encoders, one per
// distinct model name, cached for the process lifetime since building
// an encoding is not cheap and model names repeat across every call.
type BPETokenizer struct {
	mu    sync.RWMutex
	encs  map[string]*tiktoken.Tiktoken
	// failed remembers model names that could not be resolved, so
	// repeated lookups for an unknown model don't retry tiktoken's
	// (network-backed, on first use) encoding-table fetch every call.
	failed map[string]struct{}
}

// New returns a Tokenizer backed by tiktoken-go with the byte-based
// estimator as fallback.
func New() *BPETokenizer {
	return &BPETokenizer{
		encs:   make(map[string]*tiktoken.Tiktoken),
		failed: make(map[string]struct{}),
	}
}

// Count returns the token count for text under model, treating the
// text as prose when falling back to the byte estimator. Use
// CountTyped when the caller knows the content is code.
func (t *BPETokenizer) Count(text string, model string) int {
	return t.CountTyped(text, model, store.ContentTypeText)
}

// CountJSON marshals value to its canonical JSON encoding and counts
// the result, so structural overhead (braces, quotes, field names)
// contributes to the budget the same way it will once serialized into
// a bundle.
func (t *BPETokenizer) CountJSON(value any, model string) (int, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return 0, ctxerrors.InternalError("failed to marshal value for token counting", err)
	}
	return t.Count(string(b), model), nil
}

// CountTyped counts text known to be code or prose, selecting the
// matching fallback rate (ceil(bytes/3) for code, ceil(bytes/4) for
// prose) when model is empty or its encoding table can't be resolved.
func (t *BPETokenizer) CountTyped(text string, model string, kind store.ContentType) int {
	if model != "" {
		if enc, ok := t.encoding(model); ok {
			return len(enc.Encode(text, nil, nil))
		}
	}
	return estimateTokens(text, kind)
}

func (t *BPETokenizer) encoding(model string) (*tiktoken.Tiktoken, bool) {
	t.mu.RLock()
	if enc, ok := t.encs[model]; ok {
		t.mu.RUnlock()
		return enc, true
	}
	if _, bad := t.failed[model]; bad {
		t.mu.RUnlock()
		return nil, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// re-check under write lock: another goroutine may have resolved
	// (or failed to resolve) this model while we waited.
	if enc, ok := t.encs[model]; ok {
		return enc, true
	}
	if _, bad := t.failed[model]; bad {
		return nil, false
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(model)
	}
	if err != nil {
		t.failed[model] = struct{}{}
		return nil, false
	}
	t.encs[model] = enc
	return enc, true
}

func estimateTokens(text string, kind store.ContentType) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	rate := tokensPerCharProse
	if kind == store.ContentTypeCode {
		rate = tokensPerCharCode
	}
	return (n + rate - 1) / rate
}
