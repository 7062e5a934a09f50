package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/accountcore/internal/model"
)

func TestSessionHandler_ListSessions_MarksCurrent(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := &mockSessionService{
		listSessionsFn: func(ctx context.Context, userID string) ([]model.Session, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want user-123", userID)
			}
			return []model.Session{
				{ID: "sess-1", UserID: userID, CreatedAt: created, ExpiresAt: created.Add(time.Hour)},
				{ID: "sess-2", UserID: userID, CreatedAt: created, ExpiresAt: created.Add(time.Hour)},
			}, nil
		},
		sessionOfFn: func(raw string) (string, bool) {
			if raw == "token-for-sess-2" {
				return "sess-2", true
			}
			return "", false
		},
	}
	h := NewSessionHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req = withToken(withUserID(req, "user-123"), "token-for-sess-2")
	w := httptest.NewRecorder()
	h.ListSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(body.Sessions))
	}
	if body.Sessions[0].Current {
		t.Error("sess-1 should not be current")
	}
	if !body.Sessions[1].Current {
		t.Error("sess-2 should be current")
	}
}

func TestSessionHandler_ListSessions_EmptyIsArray(t *testing.T) {
	h := NewSessionHandler(&mockSessionService{})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/sessions", nil), "user-123")
	w := httptest.NewRecorder()
	h.ListSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Body.String(); got != "{\"sessions\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestSessionHandler_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewSessionHandler(&mockSessionService{})

	handlers := map[string]http.HandlerFunc{
		"list":       h.ListSessions,
		"remove":     h.RemoveSession,
		"remove all": h.RemoveAllSessions,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			w := httptest.NewRecorder()
			fn(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestSessionHandler_RemoveSession(t *testing.T) {
	tests := []struct {
		name       string
		existed    bool
		err        error
		wantStatus int
	}{
		{"removed", true, nil, http.StatusNoContent},
		{"unknown session", false, nil, http.StatusNotFound},
		{"cache outage", false, errors.New("cache unavailable"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotSession string
			svc := &mockSessionService{
				removeSessionFn: func(ctx context.Context, userID, sessionID string) (bool, error) {
					gotUser, gotSession = userID, sessionID
					return tt.existed, tt.err
				},
			}
			h := NewSessionHandler(svc)

			r := chi.NewRouter()
			r.Delete("/sessions/{id}", h.RemoveSession)

			req := withUserID(httptest.NewRequest(http.MethodDelete, "/sessions/sess-9", nil), "user-123")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUser != "user-123" || gotSession != "sess-9" {
				t.Errorf("RemoveSession(%q, %q)", gotUser, gotSession)
			}
		})
	}
}

func TestSessionHandler_RemoveAllSessions_ReturnsCount(t *testing.T) {
	svc := &mockSessionService{
		removeAllSessionsFn: func(ctx context.Context, userID string) (int, error) {
			return 3, nil
		},
	}
	h := NewSessionHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodDelete, "/sessions", nil), "user-123")
	w := httptest.NewRecorder()
	h.RemoveAllSessions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body map[string]int
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["removed"] != 3 {
		t.Errorf("removed = %d, want 3", body["removed"])
	}
}
