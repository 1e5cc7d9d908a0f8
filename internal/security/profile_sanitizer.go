// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizerService はOAuthプロバイダーから取得した表示名などの
// テキストをサニタイズし、ダッシュボード表示時のXSSリスクを除去する。
// bluemondayのStrictPolicy（全タグ除去）を使用する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ProfileSanitizerService は外部プロバイダー由来テキストのサニタイズ機能の
// インターフェースを定義する。チャンネル連携情報の保存前に使用される。
type ProfileSanitizerService interface {
	// Sanitize はテキストからHTMLタグを全て除去し、前後の空白を取り除いて返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerServiceの新しいインスタンスを生成する。
// 表示名はプレーンテキストとして扱うため、タグを一切許可しない
// StrictPolicyを使用する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はテキストからHTMLタグを全て除去し、前後の空白を取り除いて返す。
func (s *profileSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}
