package recognition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu      sync.Mutex
	entries []Entry
	loads   int
}

func (l *stubLoader) LoadGallery(context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	return l.entries, nil
}

func (l *stubLoader) set(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
}

func (l *stubLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

func TestGalleryLoadsLazilyAndCaches(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{entries: []Entry{{IdentityID: 1, Vector: Vector{0.1}}}}
	g := NewGallery(loader, time.Minute)

	entries, err := g.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, 1, loader.loadCount())

	// Within the staleness bound the snapshot is served without reloading.
	_, err = g.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loadCount())
}

func TestGalleryRefreshesWhenStale(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{}
	g := NewGallery(loader, 10*time.Millisecond)

	_, err := g.Entries(ctx)
	require.NoError(t, err)

	loader.set([]Entry{{IdentityID: 2, Vector: Vector{0.2}}})
	time.Sleep(20 * time.Millisecond)

	entries, err := g.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].IdentityID)
}

func TestGalleryInvalidateForcesReload(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{}
	g := NewGallery(loader, time.Hour)

	_, err := g.Entries(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loader.loadCount())

	loader.set([]Entry{{IdentityID: 3, Vector: Vector{0.3}}})
	g.Invalidate()

	entries, err := g.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loadCount())
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].IdentityID)
}

func TestGalleryConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{entries: []Entry{{IdentityID: 1, Vector: Vector{0.1}}}}
	g := NewGallery(loader, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				entries, err := g.Entries(ctx)
				assert.NoError(t, err)
				assert.NotEmpty(t, entries)
				if j%10 == 0 {
					g.Invalidate()
				}
			}
		}()
	}
	wg.Wait()
}
