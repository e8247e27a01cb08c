package proxyline

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yuridevx/proxyhub/domain"
)

func TestFormat(t *testing.T) {
	require.Equal(t, "1.2.3.4:80", Format(domain.Candidate{Scheme: domain.SchemeHTTP, Host: "1.2.3.4", Port: 80}))
	require.Equal(t, "socks4://1.2.3.4:1080", Format(domain.Candidate{Scheme: domain.SchemeSOCKS4, Host: "1.2.3.4", Port: 1080}))
	require.Equal(t, "https://u:p@h.example:443",
		Format(domain.Candidate{Scheme: domain.SchemeHTTPS, Host: "h.example", Port: 443, Username: "u", Password: "p"}))
}

func TestFormatParseRoundTrip(t *testing.T) {
	for _, c := range []domain.Candidate{
		{Scheme: domain.SchemeHTTP, Host: "1.2.3.4", Port: 8080, Username: "user", Password: "pass"},
		{Scheme: domain.SchemeHTTPS, Host: "proxy.example.com", Port: 443, Username: "a", Password: "b:c"},
		{Scheme: domain.SchemeSOCKS5, Host: "10.0.0.1", Port: 1080, Username: "u", Password: "p@ss"},
		{Scheme: domain.SchemeSOCKS4, Host: "10.0.0.2", Port: 1081, Username: "ident"},
		{Scheme: domain.SchemeSOCKS5, Host: "10.0.0.3", Port: 9050},
		{Scheme: domain.SchemeHTTP, Host: "10.0.0.4", Port: 80},
		{Scheme: domain.SchemeHTTP, Host: "10.0.0.5", Port: 8080, Password: "secret"},
		{Scheme: domain.SchemeSOCKS5, Host: "10.0.0.6", Port: 1080, Password: "p:w"},
	} {
		line := Format(c)
		got, err := Parse(line)
		require.NoError(t, err, line)
		require.Equal(t, c.Scheme, got.Scheme, line)
		require.Equal(t, c.Host, got.Host, line)
		require.Equal(t, c.Port, got.Port, line)
		require.Equal(t, c.Username, got.Username, line)
		require.Equal(t, c.Password, got.Password, line)
	}
}

func TestFormatKeepsPasswordWithoutUsername(t *testing.T) {
	c, err := Parse("1.2.3.4:8080::secret")
	require.NoError(t, err)
	require.Empty(t, c.Username)
	require.Equal(t, "secret", c.Password)

	line := Format(c)
	require.Equal(t, "http://:secret@1.2.3.4:8080", line)
	again, err := Parse(line)
	require.NoError(t, err)
	require.Equal(t, "secret", again.Password)
}

func TestURL(t *testing.T) {
	u := URL(domain.Candidate{Scheme: domain.SchemeSOCKS5, Host: "1.2.3.4", Port: 1080, Username: "u", Password: "p"})
	require.Equal(t, "socks5://u:p@1.2.3.4:1080", u.String())

	u = URL(domain.Candidate{Scheme: domain.SchemeHTTP, Host: "1.2.3.4", Port: 80})
	require.Equal(t, "http://1.2.3.4:80", u.String())
}
