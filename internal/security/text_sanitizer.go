// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力した自由記述テキストからマークアップを除去する。
// 応募の会社名や職種名などはHTMLとして解釈されることを想定しないため、
// bluemondayのStrictPolicyですべてのタグを取り除いたプレーンテキストとして保存する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエンティティの多重エスケープを展開する最大回数。
const maxSanitizePasses = 3

// TextSanitizer はプレーンテキスト用のサニタイザー。
// bluemondayのポリシーはスレッドセーフなため、1インスタンスを共有してよい。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、HTMLエンティティを通常の文字に戻したテキストを返す。
// エンティティで書かれたタグ（&lt;script&gt;など）も展開後に再度除去する。
// 前後の空白は取り除く。同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

// SanitizePtr はnilを許容するSanitize。
func (s *TextSanitizer) SanitizePtr(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := s.Sanitize(*raw)
	return &v
}
