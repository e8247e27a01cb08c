package providers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/yuridevx/proxyhub/pkg/utils"
	"go.uber.org/zap"
)

const maxListBytes = 8 << 20

var ErrInvalidSource = errors.New("invalid source url")

// TextList downloads a remote plain-text proxy list, one proxy per line.
type TextList struct {
	client  *http.Client
	log     *zap.Logger
	backoff func() backoff.BackOff
}

func NewTextList(log *zap.Logger, client *http.Client) *TextList {
	if client == nil {
		client = http.DefaultClient
	}
	return &TextList{
		client: client,
		log:    log,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// FetchLines returns the non-blank, trimmed lines of source. 429 answers
// are retried, honouring Retry-After.
func (tl *TextList) FetchLines(ctx context.Context, source string) ([]string, error) {
	parsedURL, err := url.Parse(source)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") || parsedURL.Host == "" {
		tl.log.Warn("Invalid source URL", zap.String("source", source))
		return nil, fmt.Errorf("%w %q", ErrInvalidSource, source)
	}
	host := parsedURL.Host

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := utils.DoWithRetry(ctx, tl.client, req, tl.backoff())
	if err != nil {
		tl.log.Error("Fetch failed", zap.String("host", host), zap.Error(err))
		return nil, fmt.Errorf("fetch %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", host, resp.StatusCode)
	}

	var lines []string
	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxListBytes))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		tl.log.Warn("Scan error", zap.String("host", host), zap.Error(err))
		return nil, fmt.Errorf("read %s: %w", host, err)
	}

	tl.log.Debug("Fetched proxy list", zap.String("host", host), zap.Int("lines", len(lines)))
	return lines, nil
}
