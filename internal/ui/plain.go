package ui

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/ctxengine/internal/output"
)

// PlainRenderer reports indexing progress through an output.Writer
// instead of drawing a TUI, for CI, pipes, and --no-tui runs, so its
// lines use the same icons and formatting as other CLI output. The
// Writer is built without a logger, so the trail is not mirrored to the
// debug log.
type PlainRenderer struct {
	w     *output.Writer
	stage Stage
}

// NewPlainRenderer wraps cfg.Output in an output.Writer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{w: output.New(cfg.Output)}
}

// Start implements Renderer; plain output needs no setup.
func (r *PlainRenderer) Start(ctx context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.stage = event.Stage

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		r.w.Progress(event.Current, event.Total, fmt.Sprintf("[%s] %s", event.Stage.Icon(), msg))
		return
	}
	if msg != "" {
		r.w.Status(event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	msg := event.Err.Error()
	if event.File != "" {
		msg = fmt.Sprintf("%s: %v", event.File, event.Err)
	}
	if event.IsWarn {
		r.w.Warning(msg)
		return
	}
	r.w.Error(msg)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.w.ProgressDone()
	msg := fmt.Sprintf("Indexed %d files, %d chunks in %s", stats.Files, stats.Chunks, stats.Duration.Round(timeMillisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		msg += fmt.Sprintf(" (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	r.w.Success(msg)

	if stats.Embedder.Backend != "" {
		r.w.Status("→", fmt.Sprintf("Embedder: %s (%s, %d dims)", stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions))
	}
}

// Stop implements Renderer; nothing to tear down.
func (r *PlainRenderer) Stop() error { return nil }

const timeMillisecond = 1000000
