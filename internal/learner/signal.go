package learner

import (
	"strings"

	"github.com/Aman-CERP/ctxengine/internal/store"
)

// DefaultSatisfactionWeight and DefaultEngagementWeight are the
// default coefficients signal extraction blends satisfied and
// engagement by.
const (
	DefaultSatisfactionWeight = 0.7
	DefaultEngagementWeight   = 0.3
)

// engagementWordTarget is the word count past which a note is treated
// as maximally engaged (score caps at 1.0).
const engagementWordTarget = 20

// Signal is the scalar reward derived from one served bundle's
// recorded outcome.
type Signal struct {
	Value      float64
	Satisfied  bool
	Engagement float64
}

// ExtractSignal computes s = sat_weight*satisfied + engagement_weight*f(notes),
// where f is a 0..1 proxy for how much a free-text note reflects active
// engagement with the bundle (more words, more engagement, capped).
func ExtractSignal(i *store.Interaction, satWeight, engagementWeight float64) Signal {
	sat := 0.0
	if i.Satisfied {
		sat = 1.0
	}
	engagement := engagementScore(i.Notes)
	return Signal{
		Value:      satWeight*sat + engagementWeight*engagement,
		Satisfied:  i.Satisfied,
		Engagement: engagement,
	}
}

func engagementScore(notes string) float64 {
	words := len(strings.Fields(notes))
	if words == 0 {
		return 0
	}
	score := float64(words) / float64(engagementWordTarget)
	if score > 1 {
		score = 1
	}
	return score
}
