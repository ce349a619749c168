package stopreasons

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_FillsDefaultClassification(t *testing.T) {
	r := New(BudgetExhausted, "used == budget")
	assert.Equal(t, SeverityHigh, r.Severity)
	assert.Equal(t, CategoryResource, r.Category)
}

func TestWithDetail_Chains(t *testing.T) {
	r := New(SearchFailure, "lexical lane failed").WithDetail("attempt", "2")
	assert.Equal(t, "2", r.Details["attempt"])
}

func TestHaltsAssembly_SingleSearchFailureDoesNotHalt(t *testing.T) {
	reasons := []StopReason{New(SearchFailure, "lexical failed")}
	assert.False(t, HaltsAssembly(reasons))
}

func TestHaltsAssembly_ThreeSearchFailuresHalt(t *testing.T) {
	reasons := []StopReason{
		New(SearchFailure, "attempt 1"),
		New(SearchFailure, "attempt 2"),
		New(SearchFailure, "attempt 3"),
	}
	assert.True(t, HaltsAssembly(reasons))
}

func TestHaltsAssembly_BudgetExhaustedHaltsImmediately(t *testing.T) {
	reasons := []StopReason{New(BudgetExhausted, "used == budget")}
	assert.True(t, HaltsAssembly(reasons))
}

func TestHaltsAssembly_MediumSeverityAloneDoesNotHalt(t *testing.T) {
	reasons := []StopReason{New(BudgetWarning, "used >= 0.9*budget"), New(LimitReached, "max candidates exceeded")}
	assert.False(t, HaltsAssembly(reasons))
}

func TestNewSummary_CountsAndRecommends(t *testing.T) {
	reasons := []StopReason{
		New(BudgetExhausted, "used == budget"),
		New(GraphTraversalLimit, "truncated"),
	}
	summary := NewSummary(reasons, 4000, 120)
	assert.Equal(t, 2, summary.CountBySeverity[SeverityHigh]+summary.CountBySeverity[SeverityMedium])
	assert.Contains(t, summary.Recommendations, "increase the token budget or narrow the query to reduce pressure")
	assert.Equal(t, 4000, summary.TotalTokens)
}
