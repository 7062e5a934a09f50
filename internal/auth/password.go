package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/accountcore/internal/model"
)

// passwordHasher はbcryptによるパスワードハッシュ化を行う。
type passwordHasher struct {
	cost int
	// dummyHash はアカウントが存在しない場合の照合に使う。
	// 存在しない場合も同じコストのbcrypt比較を行い、応答時間で存在を推測させない。
	dummyHash []byte
}

func newPasswordHasher(cost int) (*passwordHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: bcrypt cost %d out of range", model.ErrMisconfiguration, cost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("accountcore-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &passwordHasher{cost: cost, dummyHash: dummy}, nil
}

// Hash はパスワードをハッシュ化する。72バイトを超えるパスワードは拒否する。
func (h *passwordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", model.NewInvalidRequestError("パスワードが空です")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", model.NewInvalidRequestError("パスワードが長すぎます")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare はパスワードがハッシュと一致するかを返す。
// hashが空の場合もダミーハッシュと比較して同じ時間をかける。
func (h *passwordHasher) Compare(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
