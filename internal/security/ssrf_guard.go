// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes は死活チェックで許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// maxPort はTCPポート番号の上限。
const maxPort = 65535

// anyPort はポート制限を行わない場合にsafeurlへ渡す全ポートの一覧。
// safeurlは許可リストが空だと80と443だけを許可するため、明示的に全ポートを渡す。
var anyPort = func() []int {
	ports := make([]int, 0, maxPort)
	for p := 1; p <= maxPort; p++ {
		ports = append(ports, p)
	}
	return ports
}()

// blockedNetworks は死活チェックの宛先として拒否するネットワーク範囲。
// ユーザーが任意のURLを登録できるため、ボットのホスト内部やクラウドの
// メタデータエンドポイントへHEADリクエストを送らせない。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // メタデータIP (169.254.169.254) を含む
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

// SSRFGuard は死活チェック用のSSRF防止機能を提供する。
// 宛先IPの遮断は常に行い、ポートの制限は許可ポートが指定された場合のみ行う。
type SSRFGuard struct {
	allowedPorts []int
}

// NewSSRFGuard はSSRFGuardを生成する。
// allowedPortsを省略した場合は宛先ポートを制限しない。
func NewSSRFGuard(allowedPorts ...int) *SSRFGuard {
	return &SSRFGuard{allowedPorts: allowedPorts}
}

// ValidatePorts は許可ポートとして指定された値がTCPポート番号の範囲内か検証する。
func ValidatePorts(ports []int) error {
	for _, p := range ports {
		if p <= 0 || p > maxPort {
			return fmt.Errorf("invalid port: %d", p)
		}
	}
	return nil
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// リダイレクト先やDNS再バインディングでプライベートIPへ到達することもできない。
// IPv6の宛先も許可するが、ループバックやリンクローカルなどはsafeurlの既定で遮断される。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	ports := g.allowedPorts
	if len(ports) == 0 {
		ports = anyPort
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(ports...).
		EnableIPv6(true).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な事前検証を行う。
// リクエスト送信前に明らかに危険なURLを弾くためのもので、
// 解決後のIP検証はNewSafeClientのクライアント側で行われる。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if len(g.allowedPorts) > 0 {
		if err := g.validatePort(parsed); err != nil {
			return err
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func (g *SSRFGuard) validatePort(parsed *url.URL) error {
	port := parsed.Port()
	if port == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port: %s", port)
	}
	for _, p := range g.allowedPorts {
		if p == n {
			return nil
		}
	}
	return fmt.Errorf("disallowed port: %d", n)
}
