package session

import (
	"strings"

	"github.com/hitoshi/accountcore/internal/token"
)

// キーファミリー。互いに素で、それぞれ独立に期限切れになる。
const (
	blacklistPrefix   = "blacklist:"
	activeTokenPrefix = "active_token:"
	sessionPrefix     = "session:"
	userIndexPrefix   = "user_sessions:"
	loginStatusPrefix = "login_status:"
)

func blacklistKey(raw string) string {
	return blacklistPrefix + token.Digest(raw)
}

func activeTokenKey(raw string) string {
	return activeTokenPrefix + token.Digest(raw)
}

func sessionKey(userID, sessionID string) string {
	return sessionPrefix + userID + ":" + sessionID
}

func userIndexKey(userID string) string {
	return userIndexPrefix + userID
}

func loginStatusKey(userID string) string {
	return loginStatusPrefix + userID
}

// sessionKeyPattern はユーザーの全セッションレコードに一致するSCANパターンを返す。
func sessionKeyPattern(userID string) string {
	return sessionPrefix + escapeGlob(userID) + ":*"
}

// sessionIDFromKey はセッションレコードのキーからセッションIDを取り出す。
func sessionIDFromKey(userID, key string) (string, bool) {
	prefix := sessionPrefix + userID + ":"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, prefix)
	return id, id != ""
}

var globReplacer = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
