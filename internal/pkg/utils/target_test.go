package utils

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeResolver(table map[string][]string) Resolver {
	return func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, ok := table[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		var ips []net.IP
		for _, a := range addrs {
			ips = append(ips, net.ParseIP(a))
		}
		return ips, nil
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		want    string
		wantErr bool
	}{
		{"url", "http://app.internal:8080/login", "app.internal", false},
		{"https", "https://10.0.0.5", "10.0.0.5", false},
		{"host_port", "127.0.0.1:3000", "127.0.0.1", false},
		{"bare_host", "localhost", "localhost", false},
		{"ipv6", "http://[::1]:8080/", "::1", false},
		{"empty", "  ", "", true},
		{"bad_scheme", "ftp://10.0.0.1/", "", true},
		{"bare_ipv6", "::1", "::1", false},
		{"host_port_path", "10.0.0.5:8080/admin", "10.0.0.5", false},
		{"userinfo_without_scheme", "10.0.0.1:80@public.example.com", "", true},
		{"userinfo_url", "http://admin:pw@10.0.0.1/", "", true},
		{"option_like", "-u http://10.0.0.1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractHost(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetGuardCheck(t *testing.T) {
	g, err := NewTargetGuard(false, []string{"203.0.113.0/24"})
	require.NoError(t, err)
	g.WithResolver(fakeResolver(map[string][]string{
		"app.internal":  {"10.1.2.3"},
		"mixed.example": {"10.1.2.3", "8.8.8.8"},
		"lab.example":   {"203.0.113.7"},
	}))
	ctx := context.Background()

	assert.NoError(t, g.Check(ctx, "http://127.0.0.1:8080"))
	assert.NoError(t, g.Check(ctx, "http://192.168.1.10/"))
	assert.NoError(t, g.Check(ctx, "https://app.internal/api"))
	assert.NoError(t, g.Check(ctx, "http://lab.example"))

	assert.ErrorIs(t, g.Check(ctx, "http://8.8.8.8"), ErrTargetNotAllowed)
	// 任一地址为公网即拒绝
	assert.ErrorIs(t, g.Check(ctx, "http://mixed.example"), ErrTargetNotAllowed)
	assert.ErrorIs(t, g.Check(ctx, "http://unknown.example"), ErrInvalidTarget)
}

func TestTargetGuardMatchesDialedHost(t *testing.T) {
	g, err := NewTargetGuard(false, nil)
	require.NoError(t, err)
	g.WithResolver(fakeResolver(map[string][]string{
		"public.example.com": {"93.184.216.34"},
	}))
	ctx := context.Background()

	assert.ErrorIs(t, g.Check(ctx, "10.0.0.1:80@public.example.com"), ErrInvalidTarget)
	assert.ErrorIs(t, g.Check(ctx, "public.example.com"), ErrTargetNotAllowed)

	// 校验的主机与策略实际连接的主机一致
	for _, target := range []string{"10.0.0.5:8080/admin", "localhost", "HTTPS://10.0.0.6/x", "192.168.0.9"} {
		host, err := ExtractHost(target)
		require.NoError(t, err, target)
		u, err := url.Parse(NormalizeTargetURL(target))
		require.NoError(t, err, target)
		assert.Equal(t, u.Hostname(), host, target)
	}
}

func TestTargetGuardAllowPublic(t *testing.T) {
	g, err := NewTargetGuard(true, nil)
	require.NoError(t, err)
	assert.NoError(t, g.Check(context.Background(), "http://8.8.8.8"))

	_, err = NewTargetGuard(false, []string{"not-a-cidr"})
	assert.Error(t, err)
}
