// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// AccountStatus はアカウントのライフサイクル状態を表す。
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusInactive  AccountStatus = "inactive"
	AccountStatusSuspended AccountStatus = "suspended"
	AccountStatusBanned    AccountStatus = "banned"
)

// Valid はステータスが既知の値かを返す。
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusSuspended, AccountStatusBanned:
		return true
	}
	return false
}

// Account はローカル認証情報と外部IdP紐付けを持つ永続アカウントを表す。
// スキーマはリポジトリ側が所有し、コアはトークン発行前のステータス不変条件のみを扱う。
type Account struct {
	ID            string
	Email         string
	Username      string
	DisplayName   string
	AvatarURL     string
	PasswordHash  string // 空の場合はローカルパスワード未設定
	Provider      string // "google" 等。未連携の場合は空
	ProviderID    string
	EmailVerified bool
	Status        AccountStatus
	LastLoginAt   *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsDeleted は論理削除済みかを返す。
func (a *Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// IsUnavailable はどのログイン経路でも拒否すべきアカウントかを返す。
// 論理削除済みまたはBANされたアカウントが該当する。
func (a *Account) IsUnavailable() bool {
	return a.IsDeleted() || a.Status == AccountStatusBanned
}

// Promote はフェデレーションログイン時のステータス昇格を行う。
// Suspendedは維持される。
func (a *Account) Promote() {
	if a.Status == AccountStatusSuspended {
		return
	}
	a.Status = AccountStatusActive
}

// HasPassword はローカルパスワードが設定済みかを返す。
func (a *Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// NormalizeEmail はメールアドレスを比較用の正規形に変換する。
// ローカル部とドメインを小文字化し、国際化ドメインはPunycodeに変換する。
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", fmt.Errorf("invalid email address: %q", email)
	}

	local := strings.ToLower(email[:at])
	domain, err := idna.Lookup.ToASCII(strings.ToLower(email[at+1:]))
	if err != nil {
		return "", fmt.Errorf("invalid email domain: %w", err)
	}

	return local + "@" + domain, nil
}
