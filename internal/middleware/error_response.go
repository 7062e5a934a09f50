package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/accountcore/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応。
var statusByCode = map[string]int{
	model.ErrCodeInvalidCredentials:     http.StatusUnauthorized,
	model.ErrCodeInvalidToken:           http.StatusUnauthorized,
	model.ErrCodeInvalidFederatedToken:  http.StatusUnauthorized,
	model.ErrCodeAuthenticationRequired: http.StatusUnauthorized,
	model.ErrCodeAccountUnavailable:     http.StatusForbidden,
	model.ErrCodeAccountAlreadyExists:   http.StatusConflict,
	model.ErrCodeUserNotFound:           http.StatusNotFound,
	model.ErrCodeSessionNotFound:        http.StatusNotFound,
	model.ErrCodeInvalidResetToken:      http.StatusBadRequest,
	model.ErrCodeInvalidRequest:         http.StatusBadRequest,
	model.ErrCodeRegisteredLoginNeeded:  http.StatusServiceUnavailable,
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はエラーの種類に応じたステータスコードで統一エラーレスポンスを書き込む。
// APIError以外のエラーは500として扱い、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		status, ok := statusByCode[apiErr.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		WriteErrorResponse(w, status, apiErr)
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
