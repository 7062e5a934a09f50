package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/accountcore/internal/model"
)

// startSession は新しいセッションを開始してトークンを発行する。
// アクティブ台帳・セッション記録・ログイン状態のいずれかの書き込みに失敗した場合は、
// それまでに書いた状態を取り消してエラーを返す。
func (s *Service) startSession(ctx context.Context, account *model.Account) (model.IssuedToken, error) {
	sessionID := uuid.NewString()

	issued, err := s.issuer.Mint(account, sessionID)
	if err != nil {
		return model.IssuedToken{}, fmt.Errorf("failed to mint token: %w", err)
	}
	ttl := s.issuer.RemainingLifetime(issued.Token)
	if ttl <= 0 {
		return model.IssuedToken{}, fmt.Errorf("minted token already expired")
	}

	if err := s.sessions.RecordActiveToken(ctx, issued.Token, account.ID, ttl); err != nil {
		return model.IssuedToken{}, fmt.Errorf("failed to record active token: %w", err)
	}

	if _, err := s.sessions.CreateSession(ctx, account.ID, sessionID, ttl); err != nil {
		s.revokeIssued(ctx, issued.Token, account.ID, "")
		return model.IssuedToken{}, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.sessions.SetLoginStatus(ctx, account.ID, true, ttl); err != nil {
		s.revokeIssued(ctx, issued.Token, account.ID, sessionID)
		return model.IssuedToken{}, fmt.Errorf("failed to set login status: %w", err)
	}

	return issued, nil
}

// revokeIssued は発行途中で失敗したトークンの状態を取り消す。
// 呼び出し元のコンテキストがキャンセル済みでも取り消しは実行する。
func (s *Service) revokeIssued(ctx context.Context, raw, userID, sessionID string) {
	ctx = context.WithoutCancel(ctx)

	if err := s.sessions.RemoveActiveToken(ctx, raw); err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back active token",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if sessionID == "" {
		return
	}
	if _, err := s.sessions.RemoveSession(ctx, userID, sessionID); err != nil {
		s.logger.ErrorContext(ctx, "failed to roll back session",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
