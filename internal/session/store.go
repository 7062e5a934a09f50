// Package session は共有キャッシュ上の認証台帳（SessionStore）を提供する。
//
// 台帳は次のキーファミリーで構成される。
//
//	blacklist:<digest>                失効済みトークン
//	active_token:<digest>             有効なトークンとユーザーIDの対応
//	session:<userID>:<sessionID>      セッションレコード（hash）
//	user_sessions:<userID>            ユーザーのセッション索引（hash: sessionID -> expires_at）
//	login_status:<userID>             ログイン中フラグ
//
// トークンを含むキーは常にダイジェストを使い、生のトークンは保存しない。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/accountcore/internal/cache"
	"github.com/hitoshi/accountcore/internal/model"
)

const (
	fieldUserID    = "user_id"
	fieldSessionID = "session_id"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// Store はキャッシュ上の台帳操作を提供する。
// キャッシュ障害はエラーとしてそのまま呼び出し元に返す。リトライはしない。
type Store struct {
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(c cache.Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{cache: c, logger: logger, now: time.Now}
}

// --- ブラックリスト ---

// IsBlacklisted はトークンが明示的に失効済みかを返す。
func (s *Store) IsBlacklisted(ctx context.Context, raw string) (bool, error) {
	ok, err := s.cache.Exists(ctx, blacklistKey(raw))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return ok, nil
}

// Blacklist はトークンを失効させる。冪等で、2回呼んでも害はない。
// ttlはトークンの残り有効期間を渡す。0以下の場合は既に期限切れなので何もしない。
func (s *Store) Blacklist(ctx context.Context, raw string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.cache.Set(ctx, blacklistKey(raw), "1", ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// --- アクティブトークン ---

// RecordActiveToken はトークンが有効でユーザーに紐づくことを記録する。
func (s *Store) RecordActiveToken(ctx context.Context, raw, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("active token ttl must be positive, got %s", ttl)
	}
	if err := s.cache.Set(ctx, activeTokenKey(raw), userID, ttl); err != nil {
		return fmt.Errorf("failed to record active token: %w", err)
	}
	return nil
}

// IsActive はトークンがアクティブ台帳に存在するかを返す。
func (s *Store) IsActive(ctx context.Context, raw string) (bool, error) {
	_, ok, err := s.ActiveTokenOwner(ctx, raw)
	return ok, err
}

// ActiveTokenOwner はアクティブ台帳に記録されたユーザーIDを返す。
func (s *Store) ActiveTokenOwner(ctx context.Context, raw string) (string, bool, error) {
	userID, ok, err := s.cache.Get(ctx, activeTokenKey(raw))
	if err != nil {
		return "", false, fmt.Errorf("failed to check active token: %w", err)
	}
	return userID, ok, nil
}

// RemoveActiveToken はアクティブ台帳からトークンを削除する。
func (s *Store) RemoveActiveToken(ctx context.Context, raw string) error {
	if _, err := s.cache.Delete(ctx, activeTokenKey(raw)); err != nil {
		return fmt.Errorf("failed to remove active token: %w", err)
	}
	return nil
}

// --- セッション ---

// CreateSession はセッションレコードを書き込み、ユーザーのセッション索引を更新する。
// 両者は同じTTLを持つ。索引の更新に失敗した場合はレコードを削除してからエラーを返すため、
// 索引に載らないレコードは残らない。
func (s *Store) CreateSession(ctx context.Context, userID, sessionID string, ttl time.Duration) (*model.Session, error) {
	if userID == "" || sessionID == "" {
		return nil, fmt.Errorf("user ID and session ID are required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}

	now := s.now().Truncate(time.Second)
	sess := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	recordKey := sessionKey(userID, sessionID)
	if err := s.writeRecord(ctx, recordKey, sess, ttl); err != nil {
		s.rollbackSession(userID, sessionID)
		return nil, err
	}

	indexKey := userIndexKey(userID)
	if err := s.cache.HSet(ctx, indexKey, map[string]string{
		sessionID: strconv.FormatInt(sess.ExpiresAt.Unix(), 10),
	}); err != nil {
		s.rollbackSession(userID, sessionID)
		return nil, fmt.Errorf("failed to update session index: %w", err)
	}
	if err := s.extendIndexTTL(ctx, indexKey, ttl); err != nil {
		s.rollbackSession(userID, sessionID)
		return nil, err
	}

	return sess, nil
}

// extendIndexTTL は索引の有効期限を延ばす。短くはしない。
// 索引は最も長く生きるセッションと同じだけ残る必要がある。
func (s *Store) extendIndexTTL(ctx context.Context, indexKey string, ttl time.Duration) error {
	current, _, err := s.cache.TTL(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("failed to read session index ttl: %w", err)
	}
	if current >= ttl {
		return nil
	}
	if _, err := s.cache.Expire(ctx, indexKey, ttl); err != nil {
		return fmt.Errorf("failed to set session index ttl: %w", err)
	}
	return nil
}

func (s *Store) writeRecord(ctx context.Context, key string, sess *model.Session, ttl time.Duration) error {
	if err := s.cache.HSet(ctx, key, map[string]string{
		fieldUserID:    sess.UserID,
		fieldSessionID: sess.ID,
		fieldCreatedAt: strconv.FormatInt(sess.CreatedAt.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(sess.ExpiresAt.Unix(), 10),
	}); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	ok, err := s.cache.Expire(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("failed to set session ttl: %w", err)
	}
	if !ok {
		return fmt.Errorf("session record vanished before ttl was set: %s", sess.ID)
	}
	return nil
}

// rollbackSession は書きかけのセッションを取り消す。
// 呼び出し元のコンテキストが期限切れでも実行できるよう独立したコンテキストを使う。
func (s *Store) rollbackSession(userID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.cache.Delete(ctx, sessionKey(userID, sessionID)); err != nil {
		s.logger.Error("failed to roll back session record",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	if _, err := s.cache.HDel(ctx, userIndexKey(userID), sessionID); err != nil {
		s.logger.Error("failed to roll back session index entry",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// RemoveSession はセッションレコードと索引エントリを削除する。
// どちらかが存在していた場合にtrueを返すので、「既に無い」と「削除した」を区別できる。
func (s *Store) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	deleted, err := s.cache.Delete(ctx, sessionKey(userID, sessionID))
	if err != nil {
		return false, fmt.Errorf("failed to delete session record: %w", err)
	}
	unindexed, err := s.cache.HDel(ctx, userIndexKey(userID), sessionID)
	if err != nil {
		return deleted > 0, fmt.Errorf("failed to delete session index entry: %w", err)
	}
	return deleted > 0 || unindexed > 0, nil
}

// GetSession は1件のセッションを返す。存在しない場合はnilを返す。
func (s *Store) GetSession(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	fields, err := s.cache.HGetAll(ctx, sessionKey(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseSession(userID, sessionID, fields), nil
}

// ListSessions はユーザーの有効なセッションを作成日時の昇順で返す。
// レコードが既に期限切れの索引エントリはその場で取り除く。
func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	sessions, _, err := s.reconcileIndex(ctx, userID)
	return sessions, err
}

// ListSessionIDs はユーザーの有効なセッションIDの集合を返す。
func (s *Store) ListSessionIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	sessions, err := s.ListSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(sessions))
	for _, sess := range sessions {
		ids[sess.ID] = struct{}{}
	}
	return ids, nil
}

// reconcileIndex は索引を読み、実在するセッションを返しつつ宙に浮いたエントリを削除する。
func (s *Store) reconcileIndex(ctx context.Context, userID string) ([]model.Session, int, error) {
	index, err := s.cache.HGetAll(ctx, userIndexKey(userID))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read session index: %w", err)
	}

	sessions := make([]model.Session, 0, len(index))
	var stale []string
	for sessionID := range index {
		sess, err := s.GetSession(ctx, userID, sessionID)
		if err != nil {
			return nil, 0, err
		}
		if sess == nil {
			stale = append(stale, sessionID)
			continue
		}
		sessions = append(sessions, *sess)
	}

	pruned := 0
	if len(stale) > 0 {
		n, err := s.cache.HDel(ctx, userIndexKey(userID), stale...)
		if err != nil {
			s.logger.Warn("failed to prune stale session index entries",
				slog.String("user_id", userID),
				slog.Int("count", len(stale)),
				slog.String("error", err.Error()),
			)
		}
		pruned = int(n)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, pruned, nil
}

// RemoveAllSessions はユーザーの全セッションレコードと索引を削除し、削除したレコード数を返す。
// 索引に載っていないレコードもSCANで拾う。
func (s *Store) RemoveAllSessions(ctx context.Context, userID string) (int, error) {
	index, err := s.cache.HGetAll(ctx, userIndexKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to read session index: %w", err)
	}

	keys := make(map[string]struct{}, len(index))
	for sessionID := range index {
		keys[sessionKey(userID, sessionID)] = struct{}{}
	}

	scanned, err := s.cache.ScanKeys(ctx, sessionKeyPattern(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to scan session records: %w", err)
	}
	for _, key := range scanned {
		if _, ok := sessionIDFromKey(userID, key); ok {
			keys[key] = struct{}{}
		}
	}

	toDelete := make([]string, 0, len(keys)+1)
	for key := range keys {
		toDelete = append(toDelete, key)
	}

	removed, err := s.cache.Delete(ctx, toDelete...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session records: %w", err)
	}
	if _, err := s.cache.Delete(ctx, userIndexKey(userID)); err != nil {
		return int(removed), fmt.Errorf("failed to delete session index: %w", err)
	}

	return int(removed), nil
}

// SweepIndexes は全ユーザーのセッション索引を走査し、宙に浮いたエントリを削除する。
// 削除したエントリ数を返す。
func (s *Store) SweepIndexes(ctx context.Context) (int, error) {
	keys, err := s.cache.ScanKeys(ctx, userIndexPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan session indexes: %w", err)
	}

	total := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		userID := strings.TrimPrefix(key, userIndexPrefix)
		_, pruned, err := s.reconcileIndex(ctx, userID)
		if err != nil {
			return total, err
		}
		total += pruned
	}
	return total, nil
}

// --- ログイン状態 ---

// SetLoginStatus はログイン中フラグを設定する。
// falseの場合はキーを削除する。"false"という値は保存しない。
func (s *Store) SetLoginStatus(ctx context.Context, userID string, loggedIn bool, ttl time.Duration) error {
	key := loginStatusKey(userID)
	if !loggedIn {
		if _, err := s.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear login status: %w", err)
		}
		return nil
	}

	if ttl <= 0 {
		return fmt.Errorf("login status ttl must be positive, got %s", ttl)
	}
	if err := s.cache.Set(ctx, key, "1", ttl); err != nil {
		return fmt.Errorf("failed to set login status: %w", err)
	}
	return nil
}

// IsLoggedIn はユーザーがどこかでログイン中かを返す。
func (s *Store) IsLoggedIn(ctx context.Context, userID string) (bool, error) {
	ok, err := s.cache.Exists(ctx, loginStatusKey(userID))
	if err != nil {
		return false, fmt.Errorf("failed to check login status: %w", err)
	}
	return ok, nil
}

func parseSession(userID, sessionID string, fields map[string]string) *model.Session {
	sess := &model.Session{ID: sessionID, UserID: userID}
	if v, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64); err == nil {
		sess.CreatedAt = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64); err == nil {
		sess.ExpiresAt = time.Unix(v, 0)
	}
	return sess
}
