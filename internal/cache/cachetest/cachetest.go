// Package cachetest はminiredisを使ったテスト用キャッシュを提供する。
package cachetest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/accountcore/internal/cache"
)

// New はminiredisに接続したRedisCacheを返す。
// miniredisとクライアントはテスト終了時に自動的に閉じられる。
func New(t testing.TB) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewRedisCacheWithClient(client, time.Second)

	t.Cleanup(func() {
		_ = c.Close()
		mr.Close()
	})

	return c, mr
}
