package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/accountcore/internal/cache/cachetest"
)

func TestResetTokenStore_IssueAndConsume(t *testing.T) {
	c, mr := cachetest.New(t)
	store := newResetTokenStore(c)
	ctx := context.Background()

	raw, err := store.Issue(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	// 生のトークンはキャッシュに保存しない
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, raw)
	}

	userID, ok, err := store.Consume(ctx, raw)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user-1", userID)

	_, ok, err = store.Consume(ctx, raw)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetTokenStore_Expires(t *testing.T) {
	c, mr := cachetest.New(t)
	store := newResetTokenStore(c)
	ctx := context.Background()

	raw, err := store.Issue(ctx, "user-1", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, ok, err := store.Consume(ctx, raw)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetTokenStore_InvalidArgs(t *testing.T) {
	c, _ := cachetest.New(t)
	store := newResetTokenStore(c)

	_, err := store.Issue(context.Background(), "user-1", 0)
	assert.Error(t, err)

	_, ok, err := store.Consume(context.Background(), "")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestResetTokenStore_ConcurrentConsumeSingleWinner(t *testing.T) {
	c, _ := cachetest.New(t)
	store := newResetTokenStore(c)
	ctx := context.Background()

	raw, err := store.Issue(ctx, "user-1", time.Hour)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := store.Consume(ctx, raw); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
