package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameRunes は表示名として保持する最大文字数。
const maxDisplayNameRunes = 256

// ProfileSanitizer はプロバイダーから受け取ったプロフィール値を無害化する。
// 表示名やアバターURLはユーザーが自由に設定できる値のため、そのまま返さない。
type ProfileSanitizer interface {
	// DisplayName はマークアップを除去し、空白を正規化した表示名を返す。
	DisplayName(raw string) string
	// AvatarURL はhttp/httpsの絶対URLのみを返し、それ以外は空文字列を返す。
	AvatarURL(raw string) string
}

// profileSanitizer はbluemondayのStrictPolicyで全タグを除去する。
type profileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *profileSanitizer {
	return &profileSanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *profileSanitizer) DisplayName(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは&などをエスケープするため、JSONで返す前に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > maxDisplayNameRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:maxDisplayNameRunes]))
	}
	return text
}

func (s *profileSanitizer) AvatarURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || !isAllowedScheme(strings.ToLower(parsed.Scheme)) {
		return ""
	}
	return parsed.String()
}

// compile-time interface check
var _ ProfileSanitizer = (*profileSanitizer)(nil)
