// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdP（Supabase Auth）が管理するユーザーを表す。
// 本サービスからは読み取り専用で、ナッジメールの宛先解決にのみ使用する。
type User struct {
	ID        string
	Email     string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
