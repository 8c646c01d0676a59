// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizer は著者名などのプレーンテキスト入力からHTMLを除去し、
// 一覧・詳細レスポンスにマークアップが混入することを防ぐ。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizer はプレーンテキスト入力のサニタイズ機能のインターフェース。
type InputSanitizer interface {
	// SanitizeText はすべてのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// inputSanitizer はInputSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerの新しいインスタンスを生成する。
func NewInputSanitizer() InputSanitizer {
	return &inputSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はすべてのHTMLタグを除去する。
// StrictPolicyはエンティティをエスケープして返すため、保存前にアンエスケープする。
func (s *inputSanitizer) SanitizeText(raw string) string {
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}
