package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はメッセージ本文をプレーンテキスト化する機能のインターフェースを定義する。
// フィードの要約やOGP説明文など、マークアップを含めてはならない出力の生成に使用される。
type TextSanitizerService interface {
	// PlainText は入力からHTMLタグを全て除去し、空白を1つに詰めたテキストを返す。
	// エンティティはデコード済みの文字で返すため、出力側で改めてエスケープすること。
	PlainText(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのポリシーはゴルーチンセーフなので1つを使い回す。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyを用いたTextSanitizerServiceを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はHTMLタグを除去したテキストを返す。
func (s *textSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
