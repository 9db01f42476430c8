// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はPodプロバイダー呼び出しのSSRF防止機能を定義する。
type SSRFGuardService interface {
	// NewSafeClient はプロバイダー呼び出し用のHTTPクライアントを生成する。
	// 接続先IPはDNS解決後のDial段階で検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はプロバイダーのベースURLを静的に検証する。
	ValidateURL(rawURL string) error
}

// プロバイダーURLの検証エラー
var (
	ErrEmptyURL         = errors.New("empty URL")
	ErrSchemeNotAllowed = errors.New("scheme not allowed")
	ErrMissingHost      = errors.New("missing host")
	ErrUserInfo         = errors.New("credentials in URL are not allowed")
	ErrQueryOrFragment  = errors.New("query or fragment is not allowed in provider URL")
	ErrPortNotAllowed   = errors.New("port not allowed")
	ErrBlockedAddress   = errors.New("blocked address")
)

var providerSchemes = []string{"http", "https"}

// providerPorts はNewSafeClientが接続を許可するポート。
var providerPorts = []int{80, 443}

// blockedPrefixes はプロバイダーとして到達させないアドレス範囲。
var blockedPrefixes = mustParsePrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10", // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"172.16.0.0/12",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

type ssrfGuard struct {
	allowPrivate bool
}

// NewSSRFGuard はSSRFガードを生成する。
// allowPrivateがtrueの場合はローカルのPodプロバイダー開発用にアドレス制限を外す。
func NewSSRFGuard(allowPrivate bool) *ssrfGuard {
	return &ssrfGuard{allowPrivate: allowPrivate}
}

// NewSafeClient はプロバイダー呼び出し用のクライアントを返す。
// リダイレクトは追従せず、3xxはそのままレスポンスとして返す。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	var client *http.Client
	if g.allowPrivate {
		client = &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	} else {
		cfg := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes(providerSchemes...).
			SetAllowedPorts(providerPorts...).
			Build()
		client = safeurl.Client(cfg).Client
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client
}

// ValidateURL はプロバイダーURLを検証する。
// DNS再バインディングはNewSafeClient側で防ぐ。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrEmptyURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !isProviderScheme(u.Scheme) {
		return fmt.Errorf("%w: %q", ErrSchemeNotAllowed, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return ErrMissingHost
	}
	if u.User != nil {
		return ErrUserInfo
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return ErrQueryOrFragment
	}

	if g.allowPrivate {
		return nil
	}
	if err := checkPort(u.Port()); err != nil {
		return err
	}
	return checkHost(host)
}

// checkPort はNewSafeClientが接続できないポートを事前に拒否する。
func checkPort(port string) error {
	if port == "" {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || !slices.Contains(providerPorts, n) {
		return fmt.Errorf("%w: %s", ErrPortNotAllowed, port)
	}
	return nil
}

func isProviderScheme(scheme string) bool {
	for _, s := range providerSchemes {
		if strings.EqualFold(scheme, s) {
			return true
		}
	}
	return false
}

// checkHost はIPリテラルとlocalhost系のホスト名を拒否する。
func checkHost(host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
		}
		return nil
	}

	name := strings.TrimSuffix(strings.ToLower(host), ".")
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
