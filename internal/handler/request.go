package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/accountcore/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

var requestValidate = newRequestValidator()

// newRequestValidator はJSONタグ名でフィールドを報告するvalidatorを生成する。
func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// registerRequest はローカル登録リクエストのボディ。
type registerRequest struct {
	Email       string `json:"email" validate:"required,email,max=254"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

// loginRequest はローカルログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// decodeRequest はJSONボディを読み込み、validateタグで検査する。
// 失敗した場合はINVALID_REQUESTのAPIErrorを返す。
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.NewInvalidRequestError("リクエストボディの解析に失敗しました")
	}

	if err := requestValidate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewInvalidRequestError(fmt.Sprintf("%s が不正です (%s)", verrs[0].Field(), verrs[0].Tag()))
		}
		return model.NewInvalidRequestError("入力値の検証に失敗しました")
	}
	return nil
}

// accountResponse はアカウント情報のAPIレスポンス。
// パスワードハッシュやプロバイダIDは含めない。
type accountResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Status        string     `json:"status"`
	HasPassword   bool       `json:"has_password"`
	Provider      string     `json:"provider,omitempty"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type loginResponse struct {
	Account    accountResponse `json:"account"`
	Token      tokenResponse   `json:"token"`
	Resolution string          `json:"resolution,omitempty"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

func toAccountResponse(a *model.Account) accountResponse {
	return accountResponse{
		ID:            a.ID,
		Email:         a.Email,
		Username:      a.Username,
		DisplayName:   a.DisplayName,
		AvatarURL:     a.AvatarURL,
		EmailVerified: a.EmailVerified,
		Status:        string(a.Status),
		HasPassword:   a.HasPassword(),
		Provider:      a.Provider,
		LastLoginAt:   a.LastLoginAt,
	}
}

func toLoginResponse(result *model.LoginResult) loginResponse {
	return loginResponse{
		Account: toAccountResponse(result.Account),
		Token: tokenResponse{
			AccessToken: result.Token.Token,
			TokenType:   "Bearer",
			SessionID:   result.Token.SessionID,
			ExpiresAt:   result.Token.ExpiresAt,
		},
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
