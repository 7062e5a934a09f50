package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/accountcore/internal/metrics"
	"github.com/hitoshi/accountcore/internal/model"
	"github.com/hitoshi/accountcore/internal/security"
)

// ProviderIdentity は外部IdPが認可コードと引き換えに返した本人情報。
type ProviderIdentity struct {
	Provider      string
	ProviderID    string // IdP内で不変のユーザーID
	Email         string
	EmailVerified bool // IdPがメールアドレスの所有を確認済みか
	Name          string
	AvatarURL     string
}

// OAuthProvider は外部IdPとの認可コードフローを抽象化するインターフェース。
type OAuthProvider interface {
	Name() string
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*ProviderIdentity, error)
}

// ResolutionKind はフェデレーションログインでアカウントがどう決まったかを表す。
type ResolutionKind string

const (
	ResolutionNewAccount           ResolutionKind = "new_account"
	ResolutionPromotedByProviderID ResolutionKind = "promoted_by_provider_id"
	ResolutionLinkedByEmail        ResolutionKind = "linked_by_email"
	ResolutionRejected             ResolutionKind = "rejected"
)

// RejectReason は拒否の理由。
type RejectReason string

const (
	RejectDeleted          RejectReason = "deleted"
	RejectBanned           RejectReason = "banned"
	RejectProviderConflict RejectReason = "provider_conflict"
	RejectUnverifiedEmail  RejectReason = "unverified_email"
)

// Resolution は本人情報をローカルアカウントに対応付けた結果。
// Kindが Rejected の場合のみ Reason が設定され、Account はnilになり得る。
type Resolution struct {
	Kind    ResolutionKind
	Reason  RejectReason
	Account *model.Account
}

// FederatedLogin はフェデレーションログインの結果。
type FederatedLogin struct {
	model.LoginResult
	Resolution ResolutionKind
}

// Linker は外部IdPによるログインを処理する。
// トークンとセッションの発行はServiceと同じ経路を通るため、
// ログアウトや検証はログイン方法によらず同じように振る舞う。
type Linker struct {
	service   *Service
	provider  OAuthProvider
	sanitizer security.ProfileSanitizer
	guard     security.URLGuard
}

// NewLinker はLinkerを生成する。
func NewLinker(service *Service, provider OAuthProvider, sanitizer security.ProfileSanitizer, guard security.URLGuard) *Linker {
	return &Linker{
		service:   service,
		provider:  provider,
		sanitizer: sanitizer,
		guard:     guard,
	}
}

// LoginURL はIdPの認可画面のURLを返す。
func (l *Linker) LoginURL(state string) string {
	return l.provider.GetLoginURL(state)
}

// HandleCallback は認可コードを本人情報に交換し、アカウントを解決してトークンを発行する。
func (l *Linker) HandleCallback(ctx context.Context, code string) (*FederatedLogin, error) {
	s := l.service

	identity, err := l.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.WarnContext(ctx, "provider code exchange failed",
			slog.String("provider", l.provider.Name()),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordAuthAttempt("federated", metrics.OutcomeFailure)
		return nil, model.ErrInvalidFederatedToken
	}
	if identity.ProviderID == "" || identity.Email == "" {
		s.metrics.RecordAuthAttempt("federated", metrics.OutcomeFailure)
		return nil, model.ErrInvalidFederatedToken
	}

	resolution, err := l.Resolve(ctx, identity)
	if err != nil {
		s.metrics.RecordAuthAttempt("federated", metrics.OutcomeError)
		return nil, err
	}
	s.metrics.RecordFederatedResolution(string(resolution.Kind))

	if resolution.Kind == ResolutionRejected {
		s.logger.InfoContext(ctx, "federated login rejected",
			slog.String("provider", identity.Provider),
			slog.String("reason", string(resolution.Reason)),
		)
		s.metrics.RecordAuthAttempt("federated", metrics.OutcomeFailure)
		return nil, rejectionError(resolution.Reason)
	}

	account := resolution.Account
	issued, err := s.startSession(ctx, account)
	if err != nil {
		s.metrics.RecordAuthAttempt("federated", metrics.OutcomeError)
		return nil, err
	}

	// セッションを発行できた場合だけ設定メールを送る
	if resolution.Kind == ResolutionNewAccount {
		l.sendPasswordSetup(ctx, account)
	}

	s.metrics.RecordAuthAttempt("federated", metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "federated login",
		slog.String("user_id", account.ID),
		slog.String("provider", identity.Provider),
		slog.String("resolution", string(resolution.Kind)),
		slog.String("session_id", issued.SessionID),
	)
	return &FederatedLogin{
		LoginResult: model.LoginResult{Account: account, Token: issued},
		Resolution:  resolution.Kind,
	}, nil
}

// Resolve は本人情報を1つのローカルアカウントに対応付ける。
// 優先順位はプロバイダーID一致 → メールアドレス一致 → 新規作成で、各分岐で確定する。
func (l *Linker) Resolve(ctx context.Context, identity *ProviderIdentity) (Resolution, error) {
	email, err := model.NormalizeEmail(identity.Email)
	if err != nil {
		return Resolution{}, model.ErrInvalidFederatedToken
	}

	if res, found, err := l.resolveByProviderID(ctx, identity); err != nil || found {
		return res, err
	}

	existing, err := l.service.accounts.GetByEmail(ctx, email)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to look up account by email: %w", err)
	}
	if existing != nil {
		return l.linkByEmail(ctx, existing, identity)
	}

	return l.createAccount(ctx, identity, email)
}

// resolveByProviderID はプロバイダーIDで一致するアカウントを探す。
// 論理削除済みのアカウントも対象にして拒否できるようにする。
func (l *Linker) resolveByProviderID(ctx context.Context, identity *ProviderIdentity) (Resolution, bool, error) {
	account, err := l.service.accounts.GetByProviderIDIncludingDeleted(ctx, identity.Provider, identity.ProviderID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("failed to look up account by provider id: %w", err)
	}
	if account == nil {
		return Resolution{}, false, nil
	}
	if reason, rejected := unavailableReason(account); rejected {
		return Resolution{Kind: ResolutionRejected, Reason: reason, Account: account}, true, nil
	}

	l.stampLogin(account)
	if err := l.service.accounts.Update(ctx, account); err != nil {
		return Resolution{}, false, fmt.Errorf("failed to update account: %w", err)
	}
	return Resolution{Kind: ResolutionPromotedByProviderID, Account: account}, true, nil
}

// linkByEmail は既存のローカルアカウントにプロバイダーIDを紐付ける。
// パスワードの所有確認は行わず、IdPによるメールアドレス確認を信頼する。
func (l *Linker) linkByEmail(ctx context.Context, account *model.Account, identity *ProviderIdentity) (Resolution, error) {
	if reason, rejected := unavailableReason(account); rejected {
		return Resolution{Kind: ResolutionRejected, Reason: reason, Account: account}, nil
	}
	if !identity.EmailVerified {
		return Resolution{Kind: ResolutionRejected, Reason: RejectUnverifiedEmail, Account: account}, nil
	}
	if account.ProviderID != "" && (account.Provider != identity.Provider || account.ProviderID != identity.ProviderID) {
		return Resolution{Kind: ResolutionRejected, Reason: RejectProviderConflict, Account: account}, nil
	}

	account.Provider = identity.Provider
	account.ProviderID = identity.ProviderID
	account.EmailVerified = true
	if account.AvatarURL == "" {
		if avatar, ok := l.guard.SanitizeAvatarURL(identity.AvatarURL); ok {
			account.AvatarURL = avatar
		}
	}
	l.stampLogin(account)

	err := l.service.accounts.Update(ctx, account)
	if errors.Is(err, model.ErrAccountAlreadyExists) {
		// 同じプロバイダーIDが並行して別アカウントに紐付いた
		return Resolution{Kind: ResolutionRejected, Reason: RejectProviderConflict, Account: account}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to link provider: %w", err)
	}
	return Resolution{Kind: ResolutionLinkedByEmail, Account: account}, nil
}

// createAccount はIdPの本人情報から新しいアカウントを作成する。
// メールアドレスはIdPが保証したものとして確認済みにする。
func (l *Linker) createAccount(ctx context.Context, identity *ProviderIdentity, email string) (Resolution, error) {
	s := l.service
	now := s.now()

	displayName := l.sanitizer.SanitizeDisplayName(identity.Name)
	avatar, _ := l.guard.SanitizeAvatarURL(identity.AvatarURL)

	account := &model.Account{
		Email:         email,
		DisplayName:   displayName,
		AvatarURL:     avatar,
		Provider:      identity.Provider,
		ProviderID:    identity.ProviderID,
		EmailVerified: true,
		Status:        model.AccountStatusActive,
		LastLoginAt:   &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.addWithUsername(ctx, account, displayName)
	if errors.Is(err, model.ErrAccountAlreadyExists) {
		// 同じ本人情報による並行ログインが先に作成した
		res, found, lookupErr := l.resolveByProviderID(ctx, identity)
		if lookupErr != nil {
			return Resolution{}, lookupErr
		}
		if found {
			return res, nil
		}
		return Resolution{Kind: ResolutionRejected, Reason: RejectProviderConflict}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to create account: %w", err)
	}
	return Resolution{Kind: ResolutionNewAccount, Account: account}, nil
}

// sendPasswordSetup は新規アカウントにローカルパスワード設定用のトークンを送る。
// 失敗してもログインは継続する。
func (l *Linker) sendPasswordSetup(ctx context.Context, account *model.Account) {
	s := l.service

	setupToken, err := s.resets.Issue(ctx, account.ID, s.config.ResetTokenTTL)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to issue password setup token",
			slog.String("user_id", account.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.notify(ctx, model.NotificationEvent{
		Type:   model.NotificationPasswordSetup,
		UserID: account.ID,
		Email:  account.Email,
		Name:   displayNameOrUsername(account),
		Token:  setupToken,
	})
}

func (l *Linker) stampLogin(account *model.Account) {
	now := l.service.now()
	account.Promote()
	account.LastLoginAt = &now
}

func unavailableReason(account *model.Account) (RejectReason, bool) {
	switch {
	case account.IsDeleted():
		return RejectDeleted, true
	case account.Status == model.AccountStatusBanned:
		return RejectBanned, true
	}
	return "", false
}

func rejectionError(reason RejectReason) error {
	switch reason {
	case RejectDeleted, RejectBanned:
		return model.ErrAccountUnavailable
	default:
		return model.ErrAccountAlreadyExists
	}
}
