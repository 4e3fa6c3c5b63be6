// Package model はドメインモデルを定義する。
package model

import "time"

// User はAPI利用者（会員窓口の職員・管理者）を表す。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはリクエストヘッダで送られる不透明なトークンそのもの。
type Session struct {
	ID        string
	UserID    string
	IsAdmin   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}
