package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memResetStore is an in-memory ResetStore whose RedeemResetToken performs
// the same check-and-set a conditional SQL update would.
type memResetStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*ResetToken
	hashes map[int64]string
}

func newMemResetStore() *memResetStore {
	return &memResetStore{rows: make(map[string]*ResetToken), hashes: make(map[int64]string)}
}

func (s *memResetStore) CreateResetToken(_ context.Context, t ResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	t.CreatedAt = time.Now()
	s.rows[t.Value] = &t
	return nil
}

func (s *memResetStore) GetResetToken(_ context.Context, value string) (ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[value]
	if !ok {
		return ResetToken{}, ErrResetNotFound
	}
	return *row, nil
}

func (s *memResetStore) RedeemResetToken(_ context.Context, value, newHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[value]
	if !ok || row.Used {
		return false, nil
	}
	row.Used = true
	s.hashes[row.IdentityID] = newHash
	return true, nil
}

func TestResetterIssueAndConsume(t *testing.T) {
	ctx := context.Background()
	store := newMemResetStore()
	r := NewResetter(store, time.Hour)

	value, err := r.Issue(ctx, 42)
	require.NoError(t, err)
	require.NotEmpty(t, value)

	require.NoError(t, r.Consume(ctx, value, "new-hash"))
	assert.Equal(t, "new-hash", store.hashes[42])

	// Second consumption of the same value fails.
	assert.ErrorIs(t, r.Consume(ctx, value, "another-hash"), ErrResetUsed)
	assert.Equal(t, "new-hash", store.hashes[42])
}

func TestResetterConsumeUnknownValue(t *testing.T) {
	r := NewResetter(newMemResetStore(), time.Hour)
	err := r.Consume(context.Background(), "no-such-value", "hash")
	assert.ErrorIs(t, err, ErrResetNotFound)
}

func TestResetterConsumeExpired(t *testing.T) {
	ctx := context.Background()
	store := newMemResetStore()
	r := NewResetter(store, time.Hour)

	value, err := r.Issue(ctx, 7)
	require.NoError(t, err)

	// Advance the resetter's clock past the token lifetime.
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	assert.ErrorIs(t, r.Consume(ctx, value, "hash"), ErrResetExpired)
}

func TestResetterSiblingsStayLive(t *testing.T) {
	ctx := context.Background()
	store := newMemResetStore()
	r := NewResetter(store, time.Hour)

	first, err := r.Issue(ctx, 7)
	require.NoError(t, err)
	second, err := r.Issue(ctx, 7)
	require.NoError(t, err)

	// Issuing a second token does not revoke the first.
	require.NoError(t, r.Consume(ctx, first, "h1"))
	require.NoError(t, r.Consume(ctx, second, "h2"))
}

func TestResetterConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newMemResetStore()
	r := NewResetter(store, time.Hour)

	value, err := r.Issue(ctx, 99)
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Consume(ctx, value, "winner-hash")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrResetUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestNewResetValueEntropy(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v, err := NewResetValue()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(v), 43) // 32 bytes, base64 raw URL
		assert.False(t, seen[v], "duplicate reset value")
		seen[v] = true
	}
}
