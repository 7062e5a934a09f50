package model

import "time"

// Session はあるクライアント上の1回のログインを表す。
// 1ユーザーが複数のセッションを同時に保持できる。
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IssuedToken は発行済みトークンとそのメタデータを表す。
// 発行後に変更されることはなく、再ログイン時は新しいトークンに置き換わる。
type IssuedToken struct {
	Token     string
	TokenID   string // jti
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// LoginResult はログイン系操作（登録・ログイン・フェデレーションログイン）の結果。
type LoginResult struct {
	Account *Account
	Token   IssuedToken
}
