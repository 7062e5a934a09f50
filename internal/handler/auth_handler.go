// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/accountcore/internal/auth"
	"github.com/hitoshi/accountcore/internal/middleware"
	"github.com/hitoshi/accountcore/internal/model"
)

const oauthStateCookie = "oauth_state"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, in auth.RegisterInput) (*model.LoginResult, error)
	Login(ctx context.Context, email, password string) (*model.LoginResult, error)
	Logout(ctx context.Context, raw string) bool
	ValidateToken(ctx context.Context, raw string) bool
	SubjectOf(raw string) (string, bool)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
}

// FederatedLoginInterface は外部IdPログインのフローを提供する。
type FederatedLoginInterface interface {
	LoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.FederatedLogin, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はフェデレーションログイン完了後のリダイレクト先。
	// トークンはURLフラグメントで渡すため、サーバーログには残らない。
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	federated FederatedLoginInterface
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, federated FederatedLoginInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:   service,
		federated: federated,
		config:    config,
	}
}

// Register はローカルアカウントを登録し、トークンを発行する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeRequest(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoginResponse(result))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

// Logout はAuthorizationヘッダーのトークンを失効させる。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, ok := middleware.BearerToken(r)
	if !ok {
		middleware.WriteError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	if !h.service.Logout(r.Context(), raw) {
		middleware.WriteError(w, r, model.ErrInvalidToken)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Validate はトークンが現在有効かを返す。
// GET /auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	raw, ok := middleware.BearerToken(r)
	if !ok || !h.service.ValidateToken(r.Context(), raw) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"valid": false})
		return
	}

	userID, _ := h.service.SubjectOf(raw)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"user_id": userID,
	})
}

// ForgotPassword はパスワード再設定メールを要求する。
// アカウントの有無にかかわらず202を返す。
// POST /auth/password/forgot
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ResetPassword は再設定トークンを消費して新しいパスワードを設定する。
// POST /auth/password/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/google",
		Domain:   h.config.CookieDomain,
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.federated.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// 成功時はBaseURLへリダイレクトし、トークンをURLフラグメントで渡す。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteError(w, r, model.NewInvalidRequestError("stateパラメータが不正です"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/google",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteError(w, r, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. 認証処理
	login, err := h.federated.HandleCallback(r.Context(), code)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	// 4. フロントエンドにリダイレクト
	fragment := url.Values{
		"access_token": {login.Token.Token},
		"token_type":   {"Bearer"},
		"expires_at":   {strconv.FormatInt(login.Token.ExpiresAt.Unix(), 10)},
		"resolution":   {string(login.Resolution)},
	}
	http.Redirect(w, r, h.config.BaseURL+"#"+fragment.Encode(), http.StatusSeeOther)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
