package proxyline

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/yuridevx/proxyhub/domain"
)

// Format renders a proxy back into the line format accepted by Parse.
// Credential-less http proxies use the bare host:port form.
func Format(c domain.Candidate) string {
	hostPort := c.Addr()
	if c.Username != "" || c.Password != "" {
		return string(c.Scheme) + "://" + c.Username + ":" + c.Password + "@" + hostPort
	}
	if c.Scheme == domain.SchemeHTTP || c.Scheme == "" {
		return hostPort
	}
	return string(c.Scheme) + "://" + hostPort
}

// FormatAll renders one line per proxy, joined by newlines.
func FormatAll(proxies []domain.Proxy) string {
	lines := make([]string, 0, len(proxies))
	for _, p := range proxies {
		lines = append(lines, Format(p.Candidate()))
	}
	return strings.Join(lines, "\n")
}

// URL builds the dialable proxy URL scheme://[user:pass@]host:port.
func URL(c domain.Candidate) *url.URL {
	u := &url.URL{
		Scheme: string(c.Scheme),
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
	}
	if c.Username != "" || c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u
}
