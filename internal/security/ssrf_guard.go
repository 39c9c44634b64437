// Package security はOAuthプロバイダーへの外向き通信と、プロバイダーから受け取った
// プロフィール値の安全性を扱う。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard はプロバイダーへの外向きHTTP通信を制限するインターフェース。
type OutboundGuard interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、メタデータIPへの
	// 接続をDialerレベルで拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は設定されたエンドポイントURLを接続前に静的に検証する。
	ValidateURL(rawURL string) error
}

// allowedSchemes は外向き通信で許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// outboundGuard はOutboundGuardの実装。
type outboundGuard struct {
	allowedPorts []int
}

// NewOutboundGuard はOutboundGuardを生成する。許可ポートは80と443。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{allowedPorts: []int{80, 443}}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// safeurlはDNS解決後のIPアドレスも検証するため、DNS再バインディングも防ぐ。
func (g *outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
func (g *outboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// ValidateURLs は複数のURLを検証し、最初に失敗したURLのエラーを返す。
func ValidateURLs(guard OutboundGuard, rawURLs ...string) error {
	for _, u := range rawURLs {
		if err := guard.ValidateURL(u); err != nil {
			return fmt.Errorf("%s: %w", u, err)
		}
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ OutboundGuard = (*outboundGuard)(nil)
