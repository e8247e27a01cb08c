package proxytest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	_ "github.com/bdandy/go-socks4"
	"github.com/yuridevx/proxyhub/domain"
	"github.com/yuridevx/proxyhub/pkg/geoip"
	"github.com/yuridevx/proxyhub/pkg/metrics"
	"github.com/yuridevx/proxyhub/pkg/proxyline"
	"github.com/yuridevx/proxyhub/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

var DefaultEndpoints = []string{
	"https://httpbin.org/ip",
	"https://api.ipify.org?format=json",
	"https://ifconfig.me/ip",
}

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 64 << 10
)

// Checker performs one reachability test per call. It walks the echo
// endpoints in order and stops at the first HTTP 200.
type Checker struct {
	log       *zap.Logger
	endpoints []string
	timeout   time.Duration
	geo       *geoip.Database
	metrics   *metrics.Metrics
}

func NewChecker(log *zap.Logger, endpoints []string, timeout time.Duration, geo *geoip.Database, m *metrics.Metrics) *Checker {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		log:       log,
		endpoints: endpoints,
		timeout:   timeout,
		geo:       geo,
		metrics:   m,
	}
}

// Probe tests cand once against the echo endpoints. Failures are reported
// as a dead result, never as an error.
func (c *Checker) Probe(ctx context.Context, cand domain.Candidate) domain.ProbeResult {
	start := time.Now()
	res := c.probe(ctx, cand, start)
	c.metrics.ObserveProbe(cand.Scheme, res, time.Since(start))
	return res
}

func (c *Checker) probe(ctx context.Context, cand domain.Candidate, start time.Time) domain.ProbeResult {
	client, err := c.client(cand)
	if err != nil {
		return domain.ProbeResult{Status: domain.StatusDead, Error: err.Error()}
	}
	defer client.CloseIdleConnections()

	var lastErr error
	for _, endpoint := range c.endpoints {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		ip, err := c.fetch(ctx, client, endpoint)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", endpoint, err)
			c.log.Debug("probe attempt failed",
				zap.String("proxy", cand.String()),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			continue
		}

		return domain.ProbeResult{
			Status:       domain.StatusLive,
			ResponseTime: time.Since(start).Milliseconds(),
			PublicIP:     ip,
			Location:     c.geo.Country(ip),
			TestURL:      endpoint,
		}
	}

	res := domain.ProbeResult{Status: domain.StatusDead, Error: "no endpoint reachable"}
	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res
}

// fetch issues one GET bounded by the per-attempt timeout. Any status other
// than 200 is a failed attempt.
func (c *Checker) fetch(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	return ExtractIP(raw), nil
}

// ExtractIP understands {"origin": ...}, {"ip": ...}, a JSON string and
// plain text. An unrecognised body yields "".
func ExtractIP(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"origin", "ip"} {
			if s, ok := obj[key].(string); ok && s != "" {
				if ip, err := utils.CleanIP(s); err == nil {
					return ip
				}
			}
		}
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		ip, _ := utils.CleanIP(s)
		return ip
	}

	ip, _ := utils.CleanIP(strings.TrimSpace(string(raw)))
	return ip
}

func (c *Checker) client(cand domain.Candidate) (*http.Client, error) {
	tr := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: c.timeout,
	}

	u := proxyline.URL(cand)
	switch cand.Scheme {
	case domain.SchemeHTTP, domain.SchemeHTTPS:
		// https proxies are reached over plain HTTP and tunnel with CONNECT.
		u.Scheme = "http"
		tr.Proxy = http.ProxyURL(u)
	case domain.SchemeSOCKS4, domain.SchemeSOCKS5:
		dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: c.timeout})
		if err != nil {
			return nil, fmt.Errorf("socks dialer: %w", err)
		}
		tr.DialContext = contextDial(dialer)
	default:
		return nil, fmt.Errorf("unsupported proxy type %q", cand.Scheme)
	}

	return &http.Client{Transport: tr}, nil
}

func contextDial(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type result struct {
			conn net.Conn
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			conn, err := d.Dial(network, addr)
			ch <- result{conn, err}
		}()
		select {
		case r := <-ch:
			return r.conn, r.err
		case <-ctx.Done():
			go func() {
				if r := <-ch; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}
