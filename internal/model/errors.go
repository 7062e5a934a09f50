// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// ラップされた場合やコピーされた場合でもerrors.Isで判定できる。
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeAccountAlreadyExists   = "ACCOUNT_ALREADY_EXISTS"
	ErrCodeAccountUnavailable     = "ACCOUNT_UNAVAILABLE"
	ErrCodeInvalidToken           = "INVALID_TOKEN"
	ErrCodeInvalidFederatedToken  = "INVALID_FEDERATED_TOKEN"
	ErrCodeInvalidResetToken      = "INVALID_RESET_TOKEN"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeSessionNotFound        = "SESSION_NOT_FOUND"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	ErrCodeRegisteredLoginNeeded  = "REGISTERED_LOGIN_REQUIRED"
)

// ErrInvalidCredentials はメールアドレスまたはパスワードの不一致を表す。
// アカウントが存在しない場合も同じ値を返し、どちらの検査で失敗したかを明かさない。
var ErrInvalidCredentials = &APIError{
	Code:     ErrCodeInvalidCredentials,
	Message:  "メールアドレスまたはパスワードが正しくありません。",
	Category: "auth",
	Action:   "入力内容を確認して再度お試しください。",
}

// ErrAccountAlreadyExists は登録時のメールアドレス重複を表す。
var ErrAccountAlreadyExists = &APIError{
	Code:     ErrCodeAccountAlreadyExists,
	Message:  "このメールアドレスは既に登録されています。",
	Category: "auth",
	Action:   "ログインするか、パスワード再設定をご利用ください。",
}

// ErrAccountUnavailable は削除済み・BAN済みアカウントのログイン試行を表す。
var ErrAccountUnavailable = &APIError{
	Code:     ErrCodeAccountUnavailable,
	Message:  "このアカウントは現在利用できません。",
	Category: "auth",
	Action:   "サポートまでお問い合わせください。",
}

// ErrInvalidToken は不正・期限切れ・失効済みのトークンを表す。
var ErrInvalidToken = &APIError{
	Code:     ErrCodeInvalidToken,
	Message:  "認証トークンが無効です。",
	Category: "auth",
	Action:   "ログインし直してください。",
}

// ErrInvalidFederatedToken は外部IdPが認可コードを拒否した場合を表す。
var ErrInvalidFederatedToken = &APIError{
	Code:     ErrCodeInvalidFederatedToken,
	Message:  "外部サービスでの認証に失敗しました。",
	Category: "auth",
	Action:   "もう一度ログインをお試しください。",
}

// ErrInvalidResetToken はパスワード設定用トークンが無効な場合を表す。
var ErrInvalidResetToken = &APIError{
	Code:     ErrCodeInvalidResetToken,
	Message:  "パスワード再設定リンクが無効か、有効期限が切れています。",
	Category: "auth",
	Action:   "再設定メールをもう一度リクエストしてください。",
}

// ErrRegisteredLoginRequired は登録は完了したがセッションを開始できなかった場合を表す。
// 同じ内容で再登録すると ErrAccountAlreadyExists になるため、ログインを案内する。
var ErrRegisteredLoginRequired = &APIError{
	Code:     ErrCodeRegisteredLoginNeeded,
	Message:  "アカウントは作成されましたが、ログインに失敗しました。",
	Category: "system",
	Action:   "登録したメールアドレスとパスワードでログインしてください。",
}

// ErrMisconfiguration は起動時に検出される設定不備を表す。
// リクエスト単位で回復することはない。
var ErrMisconfiguration = errors.New("misconfiguration")

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewSessionNotFoundError はセッションが存在しない場合のエラーを生成する。
func NewSessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "auth",
		Action:   "セッション一覧を更新してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAuthenticationRequiredError は認証が必要な場合のエラーを生成する。
func NewAuthenticationRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationRequired,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}
