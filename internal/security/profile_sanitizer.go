package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameLength は表示名の最大文字数（rune数）。
const maxDisplayNameLength = 100

// ProfileSanitizer は外部IdPから受け取ったプロフィール文字列を無害化する。
type ProfileSanitizer interface {
	// SanitizeDisplayName はHTMLタグと制御文字を除去し、空白を詰めて長さを制限する。
	// 結果はプレーンテキストで、HTMLエスケープはされていない。
	SanitizeDisplayName(name string) string
}

// profileSanitizer はbluemondayのStrictPolicyでタグをすべて除去する。
// *bluemonday.Policy は並行利用可能。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() ProfileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *profileSanitizer) SanitizeDisplayName(name string) string {
	if name == "" {
		return ""
	}

	// StrictPolicyは残したテキストをエスケープするので元に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(name))

	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return ' '
		}
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, stripped)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > maxDisplayNameLength {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:maxDisplayNameLength]))
	}
	return cleaned
}
