package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/accountcore/internal/middleware"
	"github.com/hitoshi/accountcore/internal/model"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)
	RemoveSession(ctx context.Context, userID, sessionID string) (bool, error)
	RemoveAllSessions(ctx context.Context, userID string) (int, error)
	SessionOf(raw string) (string, bool)
}

// SessionHandler はログイン中セッションの一覧・削除を扱う。
// 操作対象は常に認証済みユーザー自身のセッションに限られる。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// ListSessions はセッション一覧を返す。リクエストに使われたセッションにはcurrent=trueを付ける。
// GET /sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	var currentID string
	if raw, ok := middleware.TokenFromContext(r.Context()); ok {
		currentID, _ = h.service.SessionOf(raw)
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, sessionResponse{
			ID:        s.ID,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.ID == currentID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": resp})
}

// RemoveSession は指定セッションを削除する。
// DELETE /sessions/{id}
func (h *SessionHandler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	sessionID := chi.URLParam(r, "id")
	existed, err := h.service.RemoveSession(r.Context(), userID, sessionID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if !existed {
		middleware.WriteError(w, r, model.NewSessionNotFoundError(sessionID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveAllSessions は全セッションを削除する（全端末からのログアウト）。
// DELETE /sessions
func (h *SessionHandler) RemoveAllSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewAuthenticationRequiredError())
		return
	}

	removed, err := h.service.RemoveAllSessions(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
