// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"context"
	"io"
	"math/rand/v2"
	"net/http"
	"time"
)

// RetryDelays is the backoff schedule applied on retryable responses.
// Tests override this to avoid real sleeps.
var RetryDelays = []time.Duration{
	500 * time.Millisecond,
	1500 * time.Millisecond,
	3 * time.Second,
	6 * time.Second,
}

// RetryJitter is the upper bound of the random delay added to each backoff.
var RetryJitter = 250 * time.Millisecond

// retryable lists response codes worth another attempt.
var retryable = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Retryable reports whether status is a rate-limit or transient server error.
func Retryable(status int) bool {
	return retryable[status]
}

// DoWithRetry executes an HTTP request and retries on HTTP 429 and transient
// 5xx responses, sleeping RetryDelays[attempt] plus jitter between tries.
//
// When maxRetries is 0 the length of RetryDelays is used. The body of each
// retried response is drained and closed before sleeping. If the context is
// cancelled during a backoff wait the function returns ctx.Err(). After
// exhausting retries the last response is returned so the caller can
// inspect it. Transport errors are retried on the same schedule.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = len(RetryDelays)
	}

	for attempt := 0; ; attempt++ {
		resp, err := client.Do(req.Clone(ctx))
		if err == nil && !Retryable(resp.StatusCode) {
			return resp, nil
		}
		if ctx.Err() != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, ctx.Err()
		}

		if attempt >= maxRetries {
			return resp, err
		}

		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
}

func backoff(attempt int) time.Duration {
	if len(RetryDelays) == 0 {
		return 0
	}
	d := RetryDelays[len(RetryDelays)-1]
	if attempt < len(RetryDelays) {
		d = RetryDelays[attempt]
	}
	if RetryJitter > 0 {
		d += time.Duration(rand.Int64N(int64(RetryJitter)))
	}
	return d
}
