/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpcall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-apiguard/retry"
)

// ClassifyResponse maps an HTTP response onto the retry error taxonomy.
// It returns nil for statuses below 400. 429 becomes a rate-limited error
// carrying the parsed Retry-After hint, 5xx a server error, and any other
// 4xx a client error that will never be retried.
func ClassifyResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode < http.StatusBadRequest:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter, _ := ParseRetryAfter(resp)
		return retry.NewRateLimitedError(&UnexpectedStatusError{StatusCode: resp.StatusCode}, retryAfter)
	case resp.StatusCode >= http.StatusInternalServerError:
		return retry.NewClassifiedError(retry.ErrorClassServer, &UnexpectedStatusError{StatusCode: resp.StatusCode})
	default:
		return retry.NewClassifiedError(retry.ErrorClassClient, &UnexpectedStatusError{StatusCode: resp.StatusCode})
	}
}

// ClassifyTransportError wraps a round-trip failure as a network-classified
// error. Context cancellation and deadline expiry pass through unwrapped,
// they reflect the caller's decision rather than the transport's health.
func ClassifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return retry.NewClassifiedError(retry.ErrorClassNetwork, err)
}

// ParseRetryAfter extracts the Retry-After HTTP header value,
// which may be specified in seconds or as an HTTP date (RFC1123).
func ParseRetryAfter(resp *http.Response) (retryAfter time.Duration, ok bool) {
	retryAfterVal := resp.Header.Get("Retry-After")
	if retryAfterVal == "" {
		return 0, false
	}

	parsedInt, parseIntErr := strconv.Atoi(retryAfterVal)
	if parseIntErr != nil {
		parsedTime, parsedTimeErr := time.Parse(time.RFC1123, retryAfterVal)
		if parsedTimeErr != nil {
			return 0, false
		}
		return time.Until(parsedTime), true
	}
	if parsedInt < 0 {
		return 0, false
	}
	return time.Duration(parsedInt) * time.Second, true
}

// UnexpectedStatusError indicates that a response had a non-success HTTP status code.
type UnexpectedStatusError struct {
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status code %d", e.StatusCode)
}
