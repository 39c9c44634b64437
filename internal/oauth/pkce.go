package oauth

import "golang.org/x/oauth2"

// newCodeVerifier はPKCEのcode_verifierを生成する（32バイトの乱数をbase64url化）。
var newCodeVerifier = oauth2.GenerateVerifier

// authCodeOptions は認可URLに付与する追加パラメータを返す。
// verifierが空の場合はPKCEを使わない。
func authCodeOptions(verifier string) []oauth2.AuthCodeOption {
	if verifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
}

// exchangeOptions はトークン交換リクエストに付与する追加パラメータを返す。
func exchangeOptions(verifier string) []oauth2.AuthCodeOption {
	if verifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(verifier)}
}
