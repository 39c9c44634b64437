package oauth

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hitoshi/authflow/internal/model"
	"github.com/hitoshi/authflow/internal/security"
)

// profileMapper はプロバイダー固有のプロフィールから正規化前の値を取り出す。
type profileMapper func(raw model.RawProfile) model.CanonicalIdentity

var profileMappers = map[model.ProviderID]profileMapper{
	model.ProviderGoogle: mapGoogleProfile,
	model.ProviderGitHub: mapGitHubProfile,
}

// Normalizer はプロバイダーごとのプロフィールをCanonicalIdentityに変換する。
type Normalizer struct {
	sanitizer security.ProfileSanitizer
}

// NewNormalizer はNormalizerを生成する。sanitizerがnilの場合は既定のものを使う。
func NewNormalizer(sanitizer security.ProfileSanitizer) *Normalizer {
	if sanitizer == nil {
		sanitizer = security.NewProfileSanitizer()
	}
	return &Normalizer{sanitizer: sanitizer}
}

// Normalize はプロフィールを正規化する。
// ユーザーIDが取り出せない場合はErrMalformedProfileを返す。
func (n *Normalizer) Normalize(provider model.ProviderID, raw model.RawProfile) (*model.CanonicalIdentity, error) {
	mapper, ok := profileMappers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	identity := mapper(raw)
	if identity.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: %s profile has no user id", ErrMalformedProfile, provider)
	}

	identity.Provider = provider
	identity.Email = strings.TrimSpace(identity.Email)
	identity.DisplayName = n.sanitizer.DisplayName(identity.DisplayName)
	identity.AvatarURL = n.sanitizer.AvatarURL(identity.AvatarURL)

	return &identity, nil
}

// google: sub, email, name, picture
func mapGoogleProfile(raw model.RawProfile) model.CanonicalIdentity {
	return model.CanonicalIdentity{
		ProviderUserID: idField(raw, "sub"),
		Email:          stringField(raw, "email"),
		DisplayName:    stringField(raw, "name"),
		AvatarURL:      stringField(raw, "picture"),
	}
}

// github: id（数値）, email（null可）, login, avatar_url
func mapGitHubProfile(raw model.RawProfile) model.CanonicalIdentity {
	name := stringField(raw, "login")
	if name == "" {
		name = stringField(raw, "name")
	}
	return model.CanonicalIdentity{
		ProviderUserID: idField(raw, "id"),
		Email:          stringField(raw, "email"),
		DisplayName:    name,
		AvatarURL:      stringField(raw, "avatar_url"),
	}
}

// stringField は文字列項目を取り出す。存在しない、nullまたは文字列以外の場合は空文字列。
func stringField(raw model.RawProfile, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

// idField はユーザーID項目を文字列として取り出す。
// JSONの数値は整数表記に、文字列は前後の空白を除いてそのまま使う。
func idField(raw model.RawProfile, key string) string {
	switch v := raw[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		if f, err := v.Float64(); err == nil {
			return formatFloatID(f)
		}
		return v.String()
	case float64:
		return formatFloatID(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func formatFloatID(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
