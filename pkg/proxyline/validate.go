package proxyline

import (
	"regexp"
	"strings"

	"github.com/yuridevx/proxyhub/domain"
)

var hostPattern = regexp.MustCompile(`^[\w.-]+$`)

// ValidationError names the field of a candidate that failed Validate.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Normalize trims user supplied fields and fills in the defaults for
// scheme and display name.
func Normalize(c domain.Candidate) domain.Candidate {
	c.Host = strings.TrimSpace(c.Host)
	c.Username = strings.TrimSpace(c.Username)
	c.Password = strings.TrimSpace(c.Password)
	c.Name = strings.TrimSpace(c.Name)
	c.Scheme = domain.Scheme(strings.ToLower(strings.TrimSpace(string(c.Scheme))))
	if c.Scheme == "" {
		c.Scheme = domain.SchemeHTTP
	}
	if c.Name == "" {
		c.Name = c.Addr()
	}
	return c
}

// Validate applies the checks every candidate must pass before it is
// persisted or probed.
func Validate(c domain.Candidate) error {
	if c.Host == "" || c.Port == 0 {
		return &ValidationError{Field: "host", Reason: "host and port are required"}
	}
	if !hostPattern.MatchString(c.Host) {
		return &ValidationError{Field: "host", Reason: "invalid host format"}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "port must be between 1-65535"}
	}
	if !c.Scheme.Valid() {
		return &ValidationError{Field: "type", Reason: "invalid proxy type"}
	}
	if strings.Contains(c.Username, ":") {
		return &ValidationError{Field: "username", Reason: "username must not contain ':'"}
	}
	return nil
}
