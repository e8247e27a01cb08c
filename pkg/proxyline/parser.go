package proxyline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yuridevx/proxyhub/domain"
)

// ParseError reports a line that does not match any accepted proxy form.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return e.Line + ": " + e.Reason
}

var schemePrefixes = map[string]domain.Scheme{
	"http":   domain.SchemeHTTP,
	"https":  domain.SchemeHTTPS,
	"socks":  domain.SchemeSOCKS5,
	"socks4": domain.SchemeSOCKS4,
	"socks5": domain.SchemeSOCKS5,
}

// Parse turns one trimmed line into a candidate. Accepted forms:
//
//	scheme://[user:pass@]host:port
//	host:port
//	host:port:user:pass
//
// The result is not validated, see Validate.
func Parse(line string) (domain.Candidate, error) {
	c := domain.Candidate{Scheme: domain.SchemeHTTP}
	rest := line

	if i := strings.Index(rest, "://"); i >= 0 {
		scheme, ok := schemePrefixes[strings.ToLower(rest[:i])]
		if !ok {
			return c, &ParseError{Line: line, Reason: fmt.Sprintf("unsupported scheme %q", rest[:i])}
		}
		c.Scheme = scheme
		rest = rest[i+3:]
	}

	if at := strings.LastIndex(rest, "@"); at >= 0 {
		creds, hostPort := rest[:at], rest[at+1:]
		c.Username, c.Password, _ = strings.Cut(creds, ":")
		parts := strings.Split(hostPort, ":")
		if len(parts) != 2 {
			return c, &ParseError{Line: line, Reason: "invalid format, expected user:pass@host:port"}
		}
		c.Host = parts[0]
		port, err := parsePort(line, parts[1])
		if err != nil {
			return c, err
		}
		c.Port = port
	} else {
		parts := strings.Split(rest, ":")
		if len(parts) < 2 {
			return c, &ParseError{Line: line, Reason: "invalid format, expected host:port"}
		}
		c.Host = parts[0]
		port, err := parsePort(line, parts[1])
		if err != nil {
			return c, err
		}
		c.Port = port
		if len(parts) > 2 {
			c.Username = parts[2]
		}
		if len(parts) > 3 {
			c.Password = strings.Join(parts[3:], ":")
		}
	}

	c.Name = c.Addr()
	return c, nil
}

func parsePort(line, s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ParseError{Line: line, Reason: fmt.Sprintf("invalid port %q", s)}
	}
	return port, nil
}
