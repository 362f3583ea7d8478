// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はフィード記事のタイトルと概要からマークアップを
// 除去する。集約結果はプレーンテキストとして表示されるため、許可リストは
// 持たず全タグを剥がすStrictPolicyを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はテキストのマークアップ除去機能のインターフェースを定義する。
// フィード記事の正規化時に使用される。
type ContentSanitizerService interface {
	// Strip は入力からすべてのHTMLタグを除去したプレーンテキストを返す。
	// HTMLエンティティはデコードされ、連続する空白は1つに正規化される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Strip(raw string) string

	// StripAndTruncate はStripの結果を最大maxRunes文字（rune単位）に
	// 切り詰めて返す。切り詰めが発生した場合は末尾に "…" を付加する。
	StripAndTruncate(raw string, maxRunes int) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに動作する。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicy（全タグ除去）を使用する。フィードの概要はHTML断片を含むことが
// 多いため、保存前に必ずこのサニタイザーを通すこと。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Strip は入力からすべてのHTMLタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Strip(raw string) string {
	if raw == "" {
		return ""
	}

	stripped := s.policy.Sanitize(raw)

	// StrictPolicyはタグのみを除去するため、&amp; 等のエンティティを戻す
	stripped = html.UnescapeString(stripped)

	return strings.Join(strings.Fields(stripped), " ")
}

// StripAndTruncate はStripの結果を最大maxRunes文字に切り詰めて返す。
// バイト単位ではなくrune単位で切るため、マルチバイト文字を壊さない。
func (s *contentSanitizer) StripAndTruncate(raw string, maxRunes int) string {
	stripped := s.Strip(raw)
	if maxRunes <= 0 {
		return stripped
	}

	runes := []rune(stripped)
	if len(runes) <= maxRunes {
		return stripped
	}

	return string(runes[:maxRunes]) + "…"
}
