// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// WebIDで一意に識別され、初回のPodログイン時に自動作成される。
type User struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	WebID            string    `db:"web_id"`
	ProviderEndpoint string    `db:"provider_endpoint"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Session はユーザーのログインセッションを表す。
// セッショントークン(JWT)のsidクレームがIDに対応する。
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}
