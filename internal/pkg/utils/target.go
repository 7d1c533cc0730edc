package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrInvalidTarget 目标格式错误
	ErrInvalidTarget = errors.New("invalid scan target")
	// ErrTargetNotAllowed 目标不在允许的网段内
	ErrTargetNotAllowed = errors.New("scan target is not allowed")
)

// Resolver 域名解析
type Resolver func(ctx context.Context, host string) ([]net.IP, error)

// TargetGuard 扫描目标校验
// 默认只允许私有地址和回环地址，防止服务被当作扫描跳板
type TargetGuard struct {
	allowPublic bool
	extra       []*net.IPNet
	resolve     Resolver
}

// NewTargetGuard 创建目标校验器，extraCIDRs 为额外允许的网段
func NewTargetGuard(allowPublic bool, extraCIDRs []string) (*TargetGuard, error) {
	g := &TargetGuard{
		allowPublic: allowPublic,
		resolve: func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		},
	}
	for _, cidr := range extraCIDRs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", cidr, err)
		}
		g.extra = append(g.extra, n)
	}
	return g, nil
}

// WithResolver 替换解析器（测试用）
func (g *TargetGuard) WithResolver(r Resolver) *TargetGuard {
	g.resolve = r
	return g
}

// NormalizeTargetURL 无 scheme 的目标按 http 处理，扫描策略与目标校验共用
func NormalizeTargetURL(target string) string {
	t := strings.TrimSpace(target)
	lower := strings.ToLower(t)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return t
	}
	if strings.Contains(t, "://") {
		return t
	}
	return "http://" + t
}

// ExtractHost 取出扫描策略实际连接的主机名
// 目标按 NormalizeTargetURL 的结果解析，带 userinfo 的目标一律拒绝
func ExtractHost(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrInvalidTarget
	}
	if strings.HasPrefix(target, "-") {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	if ip := net.ParseIP(strings.Trim(target, "[]")); ip != nil {
		return ip.String(), nil
	}

	u, err := url.Parse(NormalizeTargetURL(target))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %s", ErrInvalidTarget, u.Scheme)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: userinfo is not allowed", ErrInvalidTarget)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, target)
	}
	return u.Hostname(), nil
}

// Check 校验目标的所有解析地址均在允许范围内
func (g *TargetGuard) Check(ctx context.Context, target string) error {
	host, err := ExtractHost(target)
	if err != nil {
		return err
	}
	if g.allowPublic {
		return nil
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		ips, err = g.resolve(ctx, host)
		if err != nil {
			return fmt.Errorf("%w: resolve %s: %v", ErrInvalidTarget, host, err)
		}
		if len(ips) == 0 {
			return fmt.Errorf("%w: %s has no address", ErrInvalidTarget, host)
		}
	}

	for _, ip := range ips {
		if !g.allowed(ip) {
			return fmt.Errorf("%w: %s resolves to public address %s", ErrTargetNotAllowed, host, ip)
		}
	}
	return nil
}

func (g *TargetGuard) allowed(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() {
		return true
	}
	for _, n := range g.extra {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
