package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordingStatusRecorder struct {
	mu       sync.Mutex
	statuses []int
}

func (r *recordingStatusRecorder) RecordHTTPStatus(statusCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, statusCode)
}

// TestMiddlewareChain_Bearer_GETRequest は
// Bearer ミドルウェアでGETリクエストが通り、セキュリティヘッダーが付与されることを検証する。
func TestMiddlewareChain_Bearer_GETRequest(t *testing.T) {
	handlerCalled := false
	handler := NewSecurityHeadersMiddleware()(NewBearerMiddleware(validTokenValidator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if !handlerCalled {
		t.Error("handler should have been called")
	}

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	}
	for name, want := range headers {
		if got := w.Result().Header.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

// TestMiddlewareChain_NoToken_Returns401 は
// トークンがない場合に401が返され、ステータスが記録されることを検証する。
func TestMiddlewareChain_NoToken_Returns401(t *testing.T) {
	recorder := &recordingStatusRecorder{}

	handler := NewMetricsMiddleware(recorder)(NewBearerMiddleware(validTokenValidator())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusUnauthorized {
		t.Errorf("recorded statuses = %v, want [401]", recorder.statuses)
	}
}

// TestMiddlewareChain_PanicIsRecordedAs500 は
// Recovery の外側に置いたメトリクスミドルウェアが500を記録することを検証する。
func TestMiddlewareChain_PanicIsRecordedAs500(t *testing.T) {
	recorder := &recordingStatusRecorder{}

	handler := NewMetricsMiddleware(recorder)(NewRecoveryMiddleware(slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("unexpected")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	if len(recorder.statuses) != 1 || recorder.statuses[0] != http.StatusInternalServerError {
		t.Errorf("recorded statuses = %v, want [500]", recorder.statuses)
	}
}
