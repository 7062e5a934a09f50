// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/accountcore/internal/model"
)

// AccountStore はアカウントの取得・更新インターフェース。
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*model.Account, error)
	Update(ctx context.Context, account *model.Account) error
}

// SessionRevoker はユーザーの全セッションを失効させるインターフェース。
// ログイン状態の解除も含む。
type SessionRevoker interface {
	RemoveAllSessions(ctx context.Context, userID string) (int, error)
}

// Service はアカウント管理のサービス層。
type Service struct {
	accounts AccountStore
	sessions SessionRevoker
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(accounts AccountStore, sessions SessionRevoker) *Service {
	return &Service{
		accounts: accounts,
		sessions: sessions,
		now:      time.Now,
	}
}

// Get はユーザー自身のアカウントを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.Account, error) {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}
	return account, nil
}

// Deactivate はアカウントを無効化し、すべてのセッションを破棄する。
// 無効化されたアカウントは再ログインで有効に戻る。
// Activeのみをinactiveにし、SuspendedやBannedのステータスは変更しない。
// 処理順序: status=inactive → 全セッション削除（ログイン状態の解除を含む）
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("アカウントの無効化を開始します",
		slog.String("user_id", userID),
	)

	// 1. ステータスを無効に変更
	if account.Status == model.AccountStatusActive {
		account.Status = model.AccountStatusInactive
		account.UpdatedAt = s.now()
		if err := s.accounts.Update(ctx, account); err != nil {
			return fmt.Errorf("アカウントの更新に失敗しました: %w", err)
		}
	}

	// 2. セッションを削除
	removed, err := s.sessions.RemoveAllSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	slog.Info("アカウントの無効化が完了しました",
		slog.String("user_id", userID),
		slog.Int("sessions_removed", removed),
	)

	return nil
}
