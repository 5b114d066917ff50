// Package versionwatch polls the version plakat serves and prompts for a reload when it changes.
package versionwatch

import (
	"context"
	"sync"
	"time"

	"wuyrush.io/plakat/common/logging"
	cst "wuyrush.io/plakat/constants"
)

// Fetcher fetches the currently served version token
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context) (string, error)

func (f FetcherFunc) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// Watcher compares the served version token over time. The first token seen is the baseline; a later
// different token becomes the new baseline, shows the prompt through OnPrompt and, unless dismissed,
// triggers OnReload after ReloadDelay.
type Watcher struct {
	Fetcher     Fetcher
	Interval    time.Duration
	ReloadDelay time.Duration
	// OnPrompt is called with the new token when the prompt shows
	OnPrompt func(version string)
	// OnReload is called when the reload is due
	OnReload func()

	mu      sync.Mutex
	known   string
	visible bool
	timer   *time.Timer
	// armed counts reload timers; a firing timer only acts when it is the latest one
	armed uint64
}

func New(f Fetcher) *Watcher {
	return &Watcher{
		Fetcher:     f,
		Interval:    cst.DefaultVersionCheckEvery,
		ReloadDelay: cst.DefaultAutoReloadDelay,
	}
}

// Run checks immediately, then on every interval, until ctx is done. The reload timer is stopped on
// return.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.Interval)
	defer func() {
		t.Stop()
		w.mu.Lock()
		w.stopTimer()
		w.mu.Unlock()
	}()
	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check(ctx)
		}
	}
}

// Check fetches the served token once and updates the watcher. Fetch errors are logged and otherwise
// ignored.
func (w *Watcher) Check(ctx context.Context) {
	clog := logging.WithFuncName()
	v, err := w.Fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			clog.WithError(err).Warn("version check failed")
		}
		return
	}
	if v == "" {
		return
	}
	w.mu.Lock()
	if ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	if w.known == "" {
		w.known = v
		w.mu.Unlock()
		return
	}
	if v == w.known {
		w.mu.Unlock()
		return
	}
	clog.WithFields(map[string]interface{}{"known": w.known, "served": v}).Info("new version available")
	w.known = v
	show := !w.visible
	if show {
		w.visible = true
		w.armed++
		n := w.armed
		w.timer = time.AfterFunc(w.ReloadDelay, func() { w.reloadDue(n) })
	}
	w.mu.Unlock()
	if show && w.OnPrompt != nil {
		w.OnPrompt(v)
	}
}

// reloadDue runs when the n-th reload timer fires
func (w *Watcher) reloadDue(n uint64) {
	w.mu.Lock()
	if !w.visible || n != w.armed {
		// dismissed or superseded while the timer fired
		w.mu.Unlock()
		return
	}
	w.visible = false
	w.timer = nil
	w.mu.Unlock()
	if w.OnReload != nil {
		w.OnReload()
	}
}

// Dismiss hides the prompt and cancels the pending reload. Polling goes on.
func (w *Watcher) Dismiss() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.visible = false
	w.stopTimer()
}

// ReloadNow hides the prompt, cancels the pending reload and reloads right away
func (w *Watcher) ReloadNow() {
	w.Dismiss()
	if w.OnReload != nil {
		w.OnReload()
	}
}

// Visible reports whether the prompt is showing
func (w *Watcher) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// Known returns the current baseline token
func (w *Watcher) Known() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.known
}

// caller must hold w.mu
func (w *Watcher) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
