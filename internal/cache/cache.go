// Package cache は共有キャッシュの抽象化と実装を提供する。
//
// 単一キー操作のみがアトミックであることを前提とし、
// 複数キーにまたがるトランザクションは提供しない。
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable はキャッシュへの到達失敗（タイムアウト・接続断）を表す。
// 呼び出し側は認証を確認できないものとして扱う（fail closed）。
var ErrUnavailable = errors.New("cache unavailable")

// Cache は汎用キー・バリューキャッシュのインターフェース。
// GetとHGetはキーが存在しない場合に ("", false, nil) を返す。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set は値を書き込む。ttlが0以下の場合は有効期限なし。
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete は指定キーを削除し、実際に削除された件数を返す。
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Expire は有効期限を設定する。キーが存在しない場合はfalseを返す。
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// TTL は残り有効期限を返す。キーが存在しない場合は (0, false, nil)、
	// 有効期限が無い場合は (0, true, nil) を返す。
	TTL(ctx context.Context, key string) (time.Duration, bool, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HDel は指定フィールドを削除し、実際に削除された件数を返す。
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// ScanKeys はパターンに一致するキーを列挙する。KEYSではなくSCANで走査する。
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}
