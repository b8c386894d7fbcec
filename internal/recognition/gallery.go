package recognition

import (
	"context"
	"sync"
	"time"
)

// Loader produces the current set of gallery entries, ordered by identity id.
type Loader interface {
	LoadGallery(ctx context.Context) ([]Entry, error)
}

// Gallery is an explicitly scoped read-mostly snapshot of known identity
// vectors. Entries refreshes the snapshot when it is older than maxAge or
// has been invalidated; concurrent readers may legitimately match against a
// snapshot up to maxAge stale.
type Gallery struct {
	loader Loader
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	entries  []Entry
	loadedAt time.Time
	loaded   bool
}

// NewGallery creates a gallery with the given staleness bound.
func NewGallery(loader Loader, maxAge time.Duration) *Gallery {
	if maxAge <= 0 {
		maxAge = time.Minute
	}
	return &Gallery{loader: loader, maxAge: maxAge, now: time.Now}
}

// Entries returns the current snapshot, refreshing it first when stale.
func (g *Gallery) Entries(ctx context.Context) ([]Entry, error) {
	g.mu.RLock()
	if g.loaded && g.now().Sub(g.loadedAt) < g.maxAge {
		entries := g.entries
		g.mu.RUnlock()
		return entries, nil
	}
	g.mu.RUnlock()

	if err := g.Refresh(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entries, nil
}

// Refresh reloads the snapshot unconditionally.
func (g *Gallery) Refresh(ctx context.Context) error {
	entries, err := g.loader.LoadGallery(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.entries = entries
	g.loadedAt = g.now()
	g.loaded = true
	g.mu.Unlock()
	return nil
}

// Invalidate marks the snapshot stale so the next Entries call reloads it.
func (g *Gallery) Invalidate() {
	g.mu.Lock()
	g.loaded = false
	g.mu.Unlock()
}
