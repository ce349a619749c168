// Package bundle defines the externally stable JSON contract the
// Assembler emits: a ranked, budget-bounded set of items plus the
// evidence and stopping reasons that explain how they were chosen.
package bundle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/evidence"
	"github.com/Aman-CERP/ctxengine/internal/stopreasons"
)

// TokenReport accounts for the budget a bundle was assembled under.
type TokenReport struct {
	Budget  int    `json:"budget"`
	EstUsed int    `json:"est_used"`
	Actual  int    `json:"actual"`
	Model   string `json:"model"`
}

// EdgeWhy explains one graph edge that contributed to an item's
// inclusion. It marshals as a 4-tuple, not an object, matching the
// bundle's wire contract.
type EdgeWhy struct {
	Kind       string
	Target     string
	Confidence float64
	Weight     float64
}

// MarshalJSON encodes EdgeWhy as ["<kind>","<target>",confidence,weight].
func (e EdgeWhy) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]any{e.Kind, e.Target, e.Confidence, e.Weight})
}

// UnmarshalJSON decodes the same 4-tuple form.
func (e *EdgeWhy) UnmarshalJSON(data []byte) error {
	var tuple [4]any
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	kind, _ := tuple[0].(string)
	target, _ := tuple[1].(string)
	confidence, _ := tuple[2].(float64)
	weight, _ := tuple[3].(float64)
	*e = EdgeWhy{Kind: kind, Target: target, Confidence: confidence, Weight: weight}
	return nil
}

// Why records why an item was included: its seed relevance score, the
// graph edges that pulled it in (if any), and a paired test path when
// one was attached alongside an implementation span.
type Why struct {
	Seed  float64   `json:"seed"`
	Edges []EdgeWhy `json:"edges,omitempty"`
	Test  string    `json:"test,omitempty"`
}

// Span is a half-open [start,end) byte range, marshaled as a 2-tuple.
type Span [2]int

// Item is one entry in a bundle: a file, the byte spans included from
// it, the assembly level it was packed at, and why.
type Item struct {
	File  string `json:"file"`
	Spans []Span `json:"spans"`
	Level int    `json:"level"`
	Why   Why    `json:"why"`
}

// StoppingReason is the wire form of a stopreasons.StopReason.
type StoppingReason struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Values      map[string]any `json:"values,omitempty"`
	Explanation string         `json:"explanation"`
	Actionable  []string       `json:"actionable,omitempty"`
}

// FromStopReason converts a stopreasons.StopReason into its wire form.
func FromStopReason(r stopreasons.StopReason, actionable []string) StoppingReason {
	values := make(map[string]any, len(r.Details))
	for k, v := range r.Details {
		values[k] = v
	}
	return StoppingReason{
		Type:        string(r.Code),
		Severity:    string(r.Severity),
		Values:      values,
		Explanation: r.Message,
		Actionable:  actionable,
	}
}

// EvidenceEntry is the wire form of an evidence.Evidence record. A
// multi-reason Evidence is flattened into one entry per reason, since
// the bundle contract's "reason" field is singular.
type EvidenceEntry struct {
	File     string  `json:"file"`
	Symbol   string  `json:"symbol"`
	Reason   string  `json:"reason"`
	EdgeType string  `json:"edge_type,omitempty"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	Cached   bool    `json:"cached"`
}

// FromEvidence flattens an Evidence record into one EvidenceEntry per
// recorded reason.
func FromEvidence(e *evidence.Evidence) []EvidenceEntry {
	entries := make([]EvidenceEntry, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		entries = append(entries, EvidenceEntry{
			File:     e.File,
			Symbol:   e.Symbol,
			Reason:   string(reason),
			EdgeType: string(e.EdgeType),
			Rank:     e.Rank,
			Score:    e.Score,
			Cached:   e.Cached,
		})
	}
	return entries
}

// Bundle is the top-level externally stable JSON contract.
type Bundle struct {
	BundleID        string           `json:"bundle_id"`
	Query           string           `json:"query"`
	TokenReport      TokenReport      `json:"token_report"`
	Items            []Item           `json:"items"`
	Satisfied        bool             `json:"satisfied"`
	Reason           string           `json:"reason"`
	StoppingReasons  []StoppingReason `json:"stopping_reasons"`
	Evidence         []EvidenceEntry  `json:"evidence"`
}

// NewID derives a bundle id from a timestamp in the "c_<unixnano>" form.
func NewID(ts time.Time) string {
	return fmt.Sprintf("c_%d", ts.UnixNano())
}

// Marshal serializes b to its canonical JSON encoding.
func Marshal(b Bundle) ([]byte, error) {
	return json.Marshal(b)
}
