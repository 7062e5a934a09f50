// Package token は署名付きアクセストークン（JWT）の発行と解析を提供する。
//
// このパッケージは失効状態を一切知らない。失効・アクティブ判定は session パッケージの責務。
// 公開メソッドは解析失敗を外に投げず、false・空値・ゼロ値に丸める。
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/accountcore/internal/model"
)

const minSigningKeyLength = 32

// Config はトークン発行の設定。
// 全フィールド必須で、不足は起動時エラーになる。
type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
	Lifetime   time.Duration
}

// claims はアクセストークンのクレーム。
type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Sid   string `json:"sid"`
	jwt.RegisteredClaims
}

// Info は署名検証済みトークンから取り出した情報。
type Info struct {
	Subject   string
	Email     string
	Name      string
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer はHS256署名のJWTを発行・解析する。ステートレスで並行利用に安全。
type Issuer struct {
	cfg Config
	key []byte
	now func() time.Time
}

// NewIssuer はIssuerを生成する。
// 署名鍵・issuer・audienceの欠落や不正な有効期間は model.ErrMisconfiguration を返す。
func NewIssuer(cfg Config) (*Issuer, error) {
	var missing []string
	if cfg.SigningKey == "" {
		missing = append(missing, "signing key")
	}
	if cfg.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if cfg.Audience == "" {
		missing = append(missing, "audience")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: token issuer requires %v", model.ErrMisconfiguration, missing)
	}
	if len(cfg.SigningKey) < minSigningKeyLength {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", model.ErrMisconfiguration, minSigningKeyLength)
	}
	if cfg.Lifetime <= 0 {
		return nil, fmt.Errorf("%w: token lifetime must be positive, got %s", model.ErrMisconfiguration, cfg.Lifetime)
	}

	return &Issuer{
		cfg: cfg,
		key: []byte(cfg.SigningKey),
		now: time.Now,
	}, nil
}

// Lifetime は設定されたトークン有効期間を返す。
func (i *Issuer) Lifetime() time.Duration {
	return i.cfg.Lifetime
}

// Mint はアカウントとセッションIDに紐づく新しいトークンを発行する。
// jtiは毎回新しく生成される。
func (i *Issuer) Mint(account *model.Account, sessionID string) (model.IssuedToken, error) {
	if account == nil || account.ID == "" {
		return model.IssuedToken{}, fmt.Errorf("cannot mint token without subject")
	}

	now := i.now().Truncate(time.Second)
	expiresAt := now.Add(i.cfg.Lifetime)
	tokenID := uuid.NewString()

	name := account.DisplayName
	if name == "" {
		name = account.Username
	}

	c := claims{
		Email: account.Email,
		Name:  name,
		Sid:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   account.ID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
	if err != nil {
		return model.IssuedToken{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return model.IssuedToken{
		Token:     signed,
		TokenID:   tokenID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateStructure は署名・形式・issuer・audience・有効期限を検証する。
// 失効（ブラックリスト）は考慮しない。
func (i *Issuer) ValidateStructure(raw string) bool {
	if raw == "" {
		return false
	}
	_, err := jwt.ParseWithClaims(raw, &claims{}, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	return err == nil
}

// Inspect は署名を検証したうえでクレームを取り出す。有効期限切れでも取り出せる。
// 署名不正・形式不正・別issuerのトークンは ok=false を返す。
func (i *Issuer) Inspect(raw string) (Info, bool) {
	if raw == "" {
		return Info{}, false
	}

	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || c.Issuer != i.cfg.Issuer || c.Subject == "" {
		return Info{}, false
	}

	info := Info{
		Subject:   c.Subject,
		Email:     c.Email,
		Name:      c.Name,
		SessionID: c.Sid,
		TokenID:   c.ID,
	}
	if c.IssuedAt != nil {
		info.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
	}
	return info, true
}

// SubjectOf はsubクレーム（ユーザーID）を返す。解析できない場合は ok=false。
func (i *Issuer) SubjectOf(raw string) (string, bool) {
	info, ok := i.Inspect(raw)
	if !ok {
		return "", false
	}
	return info.Subject, true
}

// RemainingLifetime は有効期限までの残り時間を返す。期限切れや解析不能の場合は0。
func (i *Issuer) RemainingLifetime(raw string) time.Duration {
	info, ok := i.Inspect(raw)
	if !ok || info.ExpiresAt.IsZero() {
		return 0
	}
	remaining := info.ExpiresAt.Sub(i.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (i *Issuer) keyFunc(_ *jwt.Token) (any, error) {
	return i.key, nil
}

// Digest はトークンの一方向ダイジェスト（SHA-256の16進表現）を返す。
// キャッシュのキーには生のトークンではなく必ずこの値を使う。
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
