// Package auth はトークンとセッションのライフサイクル、および外部IdPとのアカウント連携を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/accountcore/internal/cache"
	"github.com/hitoshi/accountcore/internal/metrics"
	"github.com/hitoshi/accountcore/internal/model"
	"github.com/hitoshi/accountcore/internal/repository"
	"github.com/hitoshi/accountcore/internal/session"
	"github.com/hitoshi/accountcore/internal/token"
)

const (
	defaultResetTokenTTL = 24 * time.Hour
	maxUsernameAttempts  = 5
)

// Notifier はメール通知を非同期に依頼するインターフェース。
// 配送の完了を待たず、失敗しても呼び出し元の処理は継続する。
type Notifier interface {
	Notify(ctx context.Context, event model.NotificationEvent) bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	ResetTokenTTL time.Duration // パスワード設定・再設定トークンの有効期間
	BcryptCost    int
}

// RegisterInput はローカルアカウント登録の入力。
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// Service は登録・ログイン・ログアウト・トークン検証の状態遷移を扱う。
type Service struct {
	accounts  repository.AccountRepository
	issuer    *token.Issuer
	sessions  *session.Store
	resets    *resetTokenStore
	notifier  Notifier
	passwords *passwordHasher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	config    ServiceConfig
	now       func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService はServiceを生成する。
// cacheはパスワード再設定トークンの保存に使う（セッション台帳と同じキャッシュでよい）。
func NewService(
	accounts repository.AccountRepository,
	issuer *token.Issuer,
	sessions *session.Store,
	resetCache cache.Cache,
	notifier Notifier,
	config ServiceConfig,
	opts ...Option,
) (*Service, error) {
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = defaultResetTokenTTL
	}
	passwords, err := newPasswordHasher(config.BcryptCost)
	if err != nil {
		return nil, err
	}

	s := &Service{
		accounts:  accounts,
		issuer:    issuer,
		sessions:  sessions,
		resets:    newResetTokenStore(resetCache),
		notifier:  notifier,
		passwords: passwords,
		metrics:   metrics.Nop{},
		logger:    slog.Default(),
		config:    config,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register はローカルアカウントを作成し、トークンを発行する。
// 同じメールアドレスのアカウントが既に存在する場合は ErrAccountAlreadyExists を返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.LoginResult, error) {
	email, err := model.NormalizeEmail(in.Email)
	if err != nil {
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeFailure)
		return nil, model.NewInvalidRequestError("メールアドレスの形式が正しくありません")
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeError)
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeFailure)
		return nil, model.ErrAccountAlreadyExists
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeFailure)
		return nil, err
	}

	now := s.now()
	account := &model.Account{
		Email:        email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Status:       model.AccountStatusActive,
		LastLoginAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.addWithUsername(ctx, account, in.DisplayName); err != nil {
		if errors.Is(err, model.ErrAccountAlreadyExists) {
			s.metrics.RecordAuthAttempt("register", metrics.OutcomeFailure)
			return nil, model.ErrAccountAlreadyExists
		}
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	// アカウントは作成済みのため、ここでの失敗は再登録ではなくログインで回復させる
	issued, err := s.startSession(ctx, account)
	if err != nil {
		s.metrics.RecordAuthAttempt("register", metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "account registered without session",
			slog.String("user_id", account.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", model.ErrRegisteredLoginRequired, err)
	}

	s.notify(ctx, model.NotificationEvent{
		Type:   model.NotificationWelcome,
		UserID: account.ID,
		Email:  account.Email,
		Name:   displayNameOrUsername(account),
	})

	s.metrics.RecordAuthAttempt("register", metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "account registered",
		slog.String("user_id", account.ID),
		slog.String("session_id", issued.SessionID),
	)
	return &model.LoginResult{Account: account, Token: issued}, nil
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// アカウントが存在しない場合とパスワードが違う場合は同じ ErrInvalidCredentials を返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	normalized, err := model.NormalizeEmail(email)
	if err != nil {
		s.passwords.Compare("", password)
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeFailure)
		return nil, model.ErrInvalidCredentials
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeError)
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	var hash string
	if account != nil {
		hash = account.PasswordHash
	}
	if !s.passwords.Compare(hash, password) {
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeFailure)
		return nil, model.ErrInvalidCredentials
	}

	// パスワードを知っている呼び出し元にだけ利用不可であることを伝える
	if account.IsUnavailable() {
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeFailure)
		return nil, model.ErrAccountUnavailable
	}

	now := s.now()
	account.Promote()
	account.LastLoginAt = &now
	if err := s.accounts.Update(ctx, account); err != nil {
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeError)
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	issued, err := s.startSession(ctx, account)
	if err != nil {
		s.metrics.RecordAuthAttempt("login", metrics.OutcomeError)
		return nil, err
	}

	s.metrics.RecordAuthAttempt("login", metrics.OutcomeSuccess)
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", account.ID),
		slog.String("session_id", issued.SessionID),
	)
	return &model.LoginResult{Account: account, Token: issued}, nil
}

// Logout はトークンを失効させる。
// トークンから主体を取り出せない場合は何もせずfalseを返す。
// 失効処理はベストエフォートで、キャッシュ障害はログに残して続行する。何度呼んでもよい。
func (s *Service) Logout(ctx context.Context, raw string) bool {
	info, ok := s.issuer.Inspect(raw)
	if !ok {
		s.metrics.RecordAuthAttempt("logout", metrics.OutcomeFailure)
		return false
	}

	logger := s.logger.With(
		slog.String("user_id", info.Subject),
		slog.String("session_id", info.SessionID),
	)

	if err := s.sessions.Blacklist(ctx, raw, s.issuer.RemainingLifetime(raw)); err != nil {
		logger.ErrorContext(ctx, "failed to blacklist token", slog.String("error", err.Error()))
	}
	if err := s.sessions.RemoveActiveToken(ctx, raw); err != nil {
		logger.ErrorContext(ctx, "failed to remove active token", slog.String("error", err.Error()))
	}
	if info.SessionID != "" {
		if _, err := s.sessions.RemoveSession(ctx, info.Subject, info.SessionID); err != nil {
			logger.ErrorContext(ctx, "failed to remove session", slog.String("error", err.Error()))
		}
	}
	if err := s.sessions.SetLoginStatus(ctx, info.Subject, false, 0); err != nil {
		logger.ErrorContext(ctx, "failed to clear login status", slog.String("error", err.Error()))
	}

	s.metrics.RecordAuthAttempt("logout", metrics.OutcomeSuccess)
	logger.InfoContext(ctx, "user logged out")
	return true
}

// ValidateToken はトークンが現在有効かを返す。
// 失効リスト → アクティブ台帳 → 署名・期限 → セッション → アカウントの順に確認し、
// 最初に失敗した時点でfalseを返す。エラーはすべて無効として扱う。
func (s *Service) ValidateToken(ctx context.Context, raw string) bool {
	valid, reason := s.validate(ctx, raw)
	s.metrics.RecordTokenValidation(valid)
	if !valid {
		s.logger.DebugContext(ctx, "token rejected", slog.String("reason", reason))
	}
	return valid
}

func (s *Service) validate(ctx context.Context, raw string) (bool, string) {
	if raw == "" {
		return false, "empty"
	}

	blacklisted, err := s.sessions.IsBlacklisted(ctx, raw)
	if err != nil {
		return false, "blacklist unavailable"
	}
	if blacklisted {
		return false, "blacklisted"
	}

	owner, active, err := s.sessions.ActiveTokenOwner(ctx, raw)
	if err != nil {
		return false, "active ledger unavailable"
	}
	if !active {
		return false, "not active"
	}

	if !s.issuer.ValidateStructure(raw) {
		return false, "malformed or expired"
	}
	info, ok := s.issuer.Inspect(raw)
	if !ok || info.Subject != owner {
		return false, "subject mismatch"
	}

	sess, err := s.sessions.GetSession(ctx, info.Subject, info.SessionID)
	if err != nil {
		return false, "session store unavailable"
	}
	if sess == nil {
		return false, "session removed"
	}

	account, err := s.accounts.GetByID(ctx, info.Subject)
	if err != nil {
		return false, "account lookup failed"
	}
	if account == nil || account.IsUnavailable() {
		return false, "account unavailable"
	}
	return true, ""
}

// SubjectOf はトークンのユーザーIDを返す。ValidateTokenで検証済みのトークンに使う。
func (s *Service) SubjectOf(raw string) (string, bool) {
	return s.issuer.SubjectOf(raw)
}

// SessionOf はトークンに紐づくセッションIDを返す。
func (s *Service) SessionOf(raw string) (string, bool) {
	info, ok := s.issuer.Inspect(raw)
	if !ok || info.SessionID == "" {
		return "", false
	}
	return info.SessionID, true
}

// ListSessions は指定ユーザーの有効なセッション一覧を返す。
// 呼び出し元の認証済みユーザーIDを明示的に渡すこと。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	sessions, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// RemoveSession は指定ユーザーのセッションを1件削除する。
// 既に存在しない場合はfalseを返す。
// 削除されたセッションのトークンはValidateTokenのセッション確認で無効になる。
func (s *Service) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	existed, err := s.sessions.RemoveSession(ctx, userID, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}
	if existed {
		s.logger.InfoContext(ctx, "session removed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
		)
	}
	return existed, nil
}

// RemoveAllSessions は指定ユーザーの全セッションを削除し、ログイン状態を解除する。
func (s *Service) RemoveAllSessions(ctx context.Context, userID string) (int, error) {
	removed, err := s.sessions.RemoveAllSessions(ctx, userID)
	if err != nil {
		return removed, fmt.Errorf("failed to remove sessions: %w", err)
	}
	if err := s.sessions.SetLoginStatus(ctx, userID, false, 0); err != nil {
		return removed, fmt.Errorf("failed to clear login status: %w", err)
	}

	s.logger.InfoContext(ctx, "all sessions removed",
		slog.String("user_id", userID),
		slog.Int("count", removed),
	)
	return removed, nil
}

// IsLoggedIn はユーザーがどこかでログイン中かを返す。
func (s *Service) IsLoggedIn(ctx context.Context, userID string) (bool, error) {
	return s.sessions.IsLoggedIn(ctx, userID)
}

// RequestPasswordReset はパスワード再設定メールを依頼する。
// アカウントの有無は呼び出し元に伝えず、存在しない場合も成功として扱う。
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	normalized, err := model.NormalizeEmail(email)
	if err != nil {
		return nil
	}

	account, err := s.accounts.GetByEmail(ctx, normalized)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.IsUnavailable() {
		s.logger.InfoContext(ctx, "password reset requested for unknown or unavailable account")
		return nil
	}

	resetToken, err := s.resets.Issue(ctx, account.ID, s.config.ResetTokenTTL)
	if err != nil {
		return err
	}

	s.notify(ctx, model.NotificationEvent{
		Type:   model.NotificationPasswordReset,
		UserID: account.ID,
		Email:  account.Email,
		Name:   displayNameOrUsername(account),
		Token:  resetToken,
	})
	return nil
}

// ResetPassword は再設定トークンを消費して新しいパスワードを設定する。
// 既存のセッションはすべて削除される。
func (s *Service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	userID, ok, err := s.resets.Consume(ctx, resetToken)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrInvalidResetToken
	}

	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if account == nil || account.IsUnavailable() {
		return model.ErrInvalidResetToken
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	account.PasswordHash = hash
	if err := s.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.RemoveAllSessions(ctx, account.ID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password reset",
			slog.String("user_id", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("user_id", account.ID))
	return nil
}

// addWithUsername はusernameを決めてアカウントを作成する。
// usernameが衝突した場合は接尾辞を変えて再試行する。
func (s *Service) addWithUsername(ctx context.Context, account *model.Account, displayName string) error {
	base, fromEmail := usernameBase(account.Email, displayName)

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username, err := usernameCandidate(base, fromEmail, attempt)
		if err != nil {
			return fmt.Errorf("failed to generate username: %w", err)
		}
		account.Username = username

		err = s.accounts.Add(ctx, account)
		if errors.Is(err, repository.ErrUsernameTaken) {
			continue
		}
		return err
	}
	return fmt.Errorf("could not find a free username for base %q", base)
}

func (s *Service) notify(ctx context.Context, event model.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	if !s.notifier.Notify(ctx, event) {
		s.metrics.RecordNotificationDropped(string(event.Type))
	}
}

func displayNameOrUsername(account *model.Account) string {
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return account.Username
}
