package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
)

const maxRetryAttempts = 8

var errTooManyRequests = errors.New("too many requests")

// DoWithRetry sends req, retrying only on 429. Retry-After wins over the
// backoff policy. Transport errors are returned immediately.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, b backoff.BackOff) (*http.Response, error) {
	getBody, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	return backoff.Retry(ctx, func() (*http.Response, error) {
		attempt, err := cloneRequest(ctx, req, getBody)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := client.Do(attempt)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		if wait > 0 {
			return nil, backoff.RetryAfter(int(math.Ceil(wait.Seconds())))
		}
		return nil, errTooManyRequests
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetryAttempts))
}

func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	if req.Body == nil {
		return nil, nil
	}
	buf, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("buffering body: %w", err)
	}
	req.Body.Close()
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}, nil
}

func cloneRequest(ctx context.Context, r *http.Request, getBody func() (io.ReadCloser, error)) (*http.Request, error) {
	nr := r.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		nr.Body = body
		nr.GetBody = getBody
		nr.ContentLength = r.ContentLength
	}
	return nr, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	// "Retry-After: 120"
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	// "Retry-After: Wed, 21 Oct 2015 07:28:00 GMT"
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
