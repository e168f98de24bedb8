// Package auth はSupabase Authが発行したアクセストークンの検証と、
// IdPの管理APIによるユーザー参照を提供する。
package auth

import "errors"

// ErrUnauthenticated はトークンが存在しない、または検証に失敗したことを表す。
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal は検証済みトークンから得られる呼び出し元の識別情報。
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}
