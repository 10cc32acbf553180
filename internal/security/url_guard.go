// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// URLGuard は外部サイトへのアクセスを安全に行うためのインターフェース。
// ソース登録時のURL検証と、ページ・robots.txt取得時のHTTPクライアント生成に使用される。
type URLGuard interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
	// DNS解決後のDialer段階でブロックされる。
	// すべてのリクエストに userAgent がUser-Agentヘッダとして付与される。
	NewSafeClient(timeout time.Duration, userAgent string) *http.Client

	// ValidateURL はURLの安全性をDNS解決前に静的に検証する。
	ValidateURL(rawURL string) error
}

// 検証エラーの種別。errors.Is で判定する。
var (
	ErrInvalidURL = errors.New("invalid URL")
	ErrBlockedURL = errors.New("blocked URL")
)

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
		"100.64.0.0/10",
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

var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

type urlGuard struct {
	allowedPorts []int
}

// NewURLGuard はURLGuardを生成する。ポート未指定時は80と443のみ許可する。
func NewURLGuard(allowedPorts ...int) URLGuard {
	if len(allowedPorts) == 0 {
		allowedPorts = []int{80, 443}
	}
	return &urlGuard{allowedPorts: allowedPorts}
}

func (g *urlGuard) NewSafeClient(timeout time.Duration, userAgent string) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	client := safeurl.Client(config).Client
	client.Transport = &userAgentTransport{base: client.Transport, userAgent: userAgent}
	return client
}

func (g *urlGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: disallowed scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrBlockedURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: address %s", ErrBlockedURL, ip)
			}
		}
		return nil
	}

	if host == "localhost" {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
		}
	}
	return nil
}

// userAgentTransport はクローラーを識別できるようUser-Agentを付与する。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return base.RoundTrip(r)
}

// WithUserAgent はクライアントのTransportをUser-Agent付与付きに差し替えたコピーを返す。
// テストや内部用途でsafeurl以外のクライアントを使う場合に用いる。
func WithUserAgent(client *http.Client, userAgent string) *http.Client {
	c := *client
	c.Transport = &userAgentTransport{base: client.Transport, userAgent: userAgent}
	return &c
}
