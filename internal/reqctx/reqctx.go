// Package reqctx defines the request-scoped state shared across one
// Assemble call's stages — retrieve, rerank, traverse, pack — so a
// deadline set at the top of the pipeline is honored uniformly no
// matter which stage is running when it expires, and so every stage
// sees the same policy snapshot even if the Learner installs a new one
// mid-flight.
package reqctx

import (
	"context"
	"time"

	"github.com/Aman-CERP/ctxengine/internal/policy"
)

// RequestCtx carries one request's deadline, its cancellation
// function, and the policy snapshot in effect when the request began.
// Go convention still threads context.Context as the first parameter
// of every blocking call; RequestCtx rides alongside it as the
// pipeline-wide state that isn't naturally part of ctx itself.
type RequestCtx struct {
	Deadline time.Time
	Cancel   context.CancelFunc
	Policy   policy.Snapshot
}

// New derives a child of parent bounded by budget (zero means no
// deadline beyond parent's own) and the RequestCtx describing it.
// Callers must invoke the returned RequestCtx's Cancel once the
// request finishes, the same as any context.CancelFunc, to release the
// timer promptly rather than waiting for budget to elapse.
func New(parent context.Context, budget time.Duration, snap policy.Snapshot) (context.Context, RequestCtx) {
	if budget <= 0 {
		return parent, RequestCtx{Policy: snap, Cancel: func() {}}
	}
	ctx, cancel := context.WithTimeout(parent, budget)
	return ctx, RequestCtx{Deadline: time.Now().Add(budget), Cancel: cancel, Policy: snap}
}

// Expired reports whether rc's deadline has already passed, so a stage
// can check before its next suspension point without re-deriving the
// same fact from ctx.Err().
func (rc RequestCtx) Expired() bool {
	return !rc.Deadline.IsZero() && time.Now().After(rc.Deadline)
}
