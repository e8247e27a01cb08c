package utils

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// CleanIP normalizes an address reported by an IP echo service. Echo
// services behind other proxies may answer "a, b"; the first entry wins.
func CleanIP(raw string) (string, error) {
	first, _, _ := strings.Cut(raw, ",")
	host := strings.Trim(strings.TrimSpace(first), `"`)
	if host == "" {
		return "", fmt.Errorf("empty IP")
	}

	if strings.Count(host, ".") == 3 && !strings.Contains(host, ":") {
		parts := strings.Split(host, ".")
		for i, part := range parts {
			num, err := strconv.Atoi(part)
			if err != nil {
				return "", fmt.Errorf("invalid IP segment: %s", part)
			}
			parts[i] = strconv.Itoa(num)
		}
		host = strings.Join(parts, ".")
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address %q", host)
	}
	return ip.String(), nil
}
