// Package watcher runs the per-session background sampler (§4.9): every
// interval, it dumps the accessibility tree and optionally a screenshot,
// computes the structural and perceptual hashes, and calls
// session.UpdateScreenInfo so subscribers see ScreenInfoUpdated only on
// real change.
package watcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qorvex/qorvex/internal/driver"
	"github.com/qorvex/qorvex/internal/element"
	"github.com/qorvex/qorvex/internal/metrics"
	"github.com/qorvex/qorvex/internal/qlog"
	"github.com/qorvex/qorvex/internal/screenhash"
	"github.com/qorvex/qorvex/internal/session"
)

// Config configures one watcher instance (§4.9).
type Config struct {
	IntervalMs            int
	CaptureScreenshots    bool
	VisualChangeThreshold int
}

// DefaultConfig returns the documented defaults: 500ms interval,
// screenshots enabled, threshold 5 (§5, §4.8).
func DefaultConfig() Config {
	return Config{
		IntervalMs:            500,
		CaptureScreenshots:    true,
		VisualChangeThreshold: session.VisualChangeThreshold,
	}
}

// Handle is the cancellation handle returned by Start: cancel() stops the
// loop without waiting, stop() additionally awaits termination (§4.9).
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the loop at its next await point without waiting for it
// to exit.
func (h *Handle) Cancel() {
	h.cancel()
}

// Stop stops the loop and blocks until the sampling goroutine has
// exited.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Start spawns the sampling loop for sessionID against d, reporting into
// sess, and returns its cancellation handle.
func Start(d driver.Driver, sess *session.Session, sessionID string, cfg Config) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		interval := time.Duration(cfg.IntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = 500 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sample(ctx, d, sess, sessionID, cfg)
			}
		}
	}()

	return h
}

// sample performs one tick: tree dump, optional screenshot, hash compare,
// UpdateScreenInfo. Errors are swallowed — the tick is skipped (§4.9).
func sample(ctx context.Context, d driver.Driver, sess *session.Session, sessionID string, cfg Config) {
	tree, err := d.DumpTree(ctx)
	if err != nil {
		metrics.RecordWatcherTick(sessionID, "error")
		qlog.Printf("watcher: session %s: dump_tree failed: %v", sessionID, err)
		return
	}

	flattened := element.ListElements(tree)
	structHash := screenhash.Structural(tree)

	var perceptHash uint64
	var screenshot []byte
	if cfg.CaptureScreenshots {
		shot, err := d.Screenshot(ctx)
		if err == nil {
			screenshot = shot
			perceptHash = screenhash.Perceptual(shot)
		}
	}

	elementsJSON, err := marshalElements(flattened)
	if err != nil {
		metrics.RecordWatcherTick(sessionID, "error")
		return
	}

	changed := sess.UpdateScreenInfo(elementsJSON, structHash, perceptHash, cfg.VisualChangeThreshold)
	if changed && screenshot != nil {
		sess.UpdateScreenshot(screenshot)
	}

	if changed {
		metrics.RecordWatcherTick(sessionID, "changed")
	} else {
		metrics.RecordWatcherTick(sessionID, "unchanged")
	}
}

func marshalElements(elements []element.UIElement) (json.RawMessage, error) {
	b, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
