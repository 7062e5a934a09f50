package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/accountcore/internal/auth"
	"github.com/hitoshi/accountcore/internal/middleware"
	"github.com/hitoshi/accountcore/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn             func(ctx context.Context, in auth.RegisterInput) (*model.LoginResult, error)
	loginFn                func(ctx context.Context, email, password string) (*model.LoginResult, error)
	logoutFn               func(ctx context.Context, raw string) bool
	validateTokenFn        func(ctx context.Context, raw string) bool
	subjectOfFn            func(raw string) (string, bool)
	requestPasswordResetFn func(ctx context.Context, email string) error
	resetPasswordFn        func(ctx context.Context, resetToken, newPassword string) error
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.LoginResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*model.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, raw string) bool {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, raw)
	}
	return false
}

func (m *mockAuthService) ValidateToken(ctx context.Context, raw string) bool {
	if m.validateTokenFn != nil {
		return m.validateTokenFn(ctx, raw)
	}
	return false
}

func (m *mockAuthService) SubjectOf(raw string) (string, bool) {
	if m.subjectOfFn != nil {
		return m.subjectOfFn(raw)
	}
	return "", false
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, resetToken, newPassword)
	}
	return nil
}

type mockFederatedLogin struct {
	loginURLFn       func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.FederatedLogin, error)
}

func (m *mockFederatedLogin) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return ""
}

func (m *mockFederatedLogin) HandleCallback(ctx context.Context, code string) (*auth.FederatedLogin, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

type mockSessionService struct {
	listSessionsFn      func(ctx context.Context, userID string) ([]model.Session, error)
	removeSessionFn     func(ctx context.Context, userID, sessionID string) (bool, error)
	removeAllSessionsFn func(ctx context.Context, userID string) (int, error)
	sessionOfFn         func(raw string) (string, bool)
}

func (m *mockSessionService) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	if m.listSessionsFn != nil {
		return m.listSessionsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockSessionService) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	if m.removeSessionFn != nil {
		return m.removeSessionFn(ctx, userID, sessionID)
	}
	return false, nil
}

func (m *mockSessionService) RemoveAllSessions(ctx context.Context, userID string) (int, error) {
	if m.removeAllSessionsFn != nil {
		return m.removeAllSessionsFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockSessionService) SessionOf(raw string) (string, bool) {
	if m.sessionOfFn != nil {
		return m.sessionOfFn(raw)
	}
	return "", false
}

type mockUserService struct {
	getFn        func(ctx context.Context, userID string) (*model.Account, error)
	deactivateFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.Account, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockUserService) Deactivate(ctx context.Context, userID string) error {
	if m.deactivateFn != nil {
		return m.deactivateFn(ctx, userID)
	}
	return nil
}

// --- ヘルパー ---

// withUserID はBearerミドルウェア通過後と同じコンテキストを持つリクエストを返す。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func withToken(r *http.Request, raw string) *http.Request {
	return r.WithContext(middleware.ContextWithToken(r.Context(), raw))
}

func testAccount() *model.Account {
	return &model.Account{
		ID:            "user-123",
		Email:         "alice@example.com",
		Username:      "alice",
		DisplayName:   "Alice",
		PasswordHash:  "$2a$04$hash",
		EmailVerified: true,
		Status:        model.AccountStatusActive,
	}
}

func testLoginResult() *model.LoginResult {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.LoginResult{
		Account: testAccount(),
		Token: model.IssuedToken{
			Token:     "signed.jwt.value",
			TokenID:   "jti-1",
			SessionID: "sess-1",
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
		},
	}
}
