/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpcall

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-apiguard/retry"
)

func makeResp(statusCode int, headers map[string]string) *http.Response {
	resp := &http.Response{StatusCode: statusCode, Header: http.Header{}}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	return resp
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name      string
		resp      *http.Response
		wantClass retry.ErrorClass
		wantNil   bool
	}{
		{name: "200 is not an error", resp: makeResp(http.StatusOK, nil), wantNil: true},
		{name: "204 is not an error", resp: makeResp(http.StatusNoContent, nil), wantNil: true},
		{name: "302 is not an error", resp: makeResp(http.StatusFound, nil), wantNil: true},
		{name: "429 is rate-limited", resp: makeResp(http.StatusTooManyRequests, nil), wantClass: retry.ErrorClassRateLimited},
		{name: "500 is server", resp: makeResp(http.StatusInternalServerError, nil), wantClass: retry.ErrorClassServer},
		{name: "503 is server", resp: makeResp(http.StatusServiceUnavailable, nil), wantClass: retry.ErrorClassServer},
		{name: "400 is client", resp: makeResp(http.StatusBadRequest, nil), wantClass: retry.ErrorClassClient},
		{name: "404 is client", resp: makeResp(http.StatusNotFound, nil), wantClass: retry.ErrorClassClient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyResponse(tt.resp)
			if tt.wantNil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tt.wantClass, retry.ClassifyError(err))

			var statusErr *UnexpectedStatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tt.resp.StatusCode, statusErr.StatusCode)
		})
	}
}

func TestClassifyResponse_RetryAfterSeconds(t *testing.T) {
	err := ClassifyResponse(makeResp(http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}))
	require.Error(t, err)
	retryAfter, ok := retry.RetryAfterFromError(err)
	require.True(t, ok)
	require.Equal(t, 7*time.Second, retryAfter)
}

func TestClassifyResponse_RetryAfterHTTPDate(t *testing.T) {
	date := time.Now().Add(30 * time.Second).UTC().Format(time.RFC1123)
	err := ClassifyResponse(makeResp(http.StatusTooManyRequests, map[string]string{"Retry-After": date}))
	require.Error(t, err)
	retryAfter, ok := retry.RetryAfterFromError(err)
	require.True(t, ok)
	require.Greater(t, retryAfter, 20*time.Second)
	require.LessOrEqual(t, retryAfter, 30*time.Second)
}

func TestParseRetryAfter_MalformedValues(t *testing.T) {
	for _, val := range []string{"garbage", "-5", ""} {
		_, ok := ParseRetryAfter(makeResp(http.StatusTooManyRequests, map[string]string{"Retry-After": val}))
		require.False(t, ok, "value %q must not parse", val)
	}
}

func TestClassifyTransportError(t *testing.T) {
	require.NoError(t, ClassifyTransportError(nil))

	require.ErrorIs(t, ClassifyTransportError(context.Canceled), context.Canceled)
	require.Equal(t, retry.ErrorClassOther, retry.ClassifyError(ClassifyTransportError(context.Canceled)))

	transportErr := fmt.Errorf("dial tcp: connection refused")
	err := ClassifyTransportError(transportErr)
	require.Equal(t, retry.ErrorClassNetwork, retry.ClassifyError(err))
	require.ErrorIs(t, err, transportErr)
}
