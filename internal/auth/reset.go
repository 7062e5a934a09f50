package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hitoshi/accountcore/internal/cache"
	"github.com/hitoshi/accountcore/internal/token"
)

const resetTokenPrefix = "password_reset:"

// resetTokenStore はパスワード設定・再設定用の使い捨てトークンを管理する。
// セッショントークンとは独立したキーファミリーで、ダイジェストのみを保存する。
type resetTokenStore struct {
	cache cache.Cache
}

func newResetTokenStore(c cache.Cache) *resetTokenStore {
	return &resetTokenStore{cache: c}
}

// Issue は新しいトークンを発行し、ユーザーIDと紐付けて保存する。
func (s *resetTokenStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("reset token ttl must be positive, got %s", ttl)
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	raw := hex.EncodeToString(b)

	if err := s.cache.Set(ctx, resetTokenPrefix+token.Digest(raw), userID, ttl); err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}
	return raw, nil
}

// Consume はトークンを消費してユーザーIDを返す。
// 同じトークンを同時に消費しようとした場合、削除に成功した1件だけがtrueになる。
func (s *resetTokenStore) Consume(ctx context.Context, raw string) (string, bool, error) {
	if raw == "" {
		return "", false, nil
	}
	key := resetTokenPrefix + token.Digest(raw)

	userID, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to read reset token: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	deleted, err := s.cache.Delete(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to consume reset token: %w", err)
	}
	if deleted == 0 {
		return "", false, nil
	}
	return userID, true, nil
}
