package model

import "time"

// NotificationType はメール通知の種別。
type NotificationType string

const (
	NotificationWelcome       NotificationType = "welcome"
	NotificationPasswordSetup NotificationType = "password_setup"
	NotificationPasswordReset NotificationType = "password_reset"
)

// NotificationEvent はメール通知サービスに渡すイベント。
// 本文の組み立てと配送は通知サービス側の責務。
type NotificationEvent struct {
	ID        string
	Type      NotificationType
	UserID    string
	Email     string
	Name      string
	Token     string // パスワード設定・再設定用のワンタイムトークン
	CreatedAt time.Time
}
