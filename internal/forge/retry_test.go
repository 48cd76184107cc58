package forge

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func responseWithStatus(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func TestRetryOperation_RecoversAfterTransientErrors(t *testing.T) {
	attempts := 0
	op := func() (*github.Response, error) {
		attempts++
		if attempts < 3 {
			return responseWithStatus(http.StatusBadGateway), errors.New("bad gateway")
		}
		return responseWithStatus(http.StatusOK), nil
	}

	_, err := retryOperation(context.Background(), fastRetry(), zap.NewNop(), op)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryOperation_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	cause := errors.New("not found")
	op := func() (*github.Response, error) {
		attempts++
		return responseWithStatus(http.StatusNotFound), cause
	}

	_, err := retryOperation(context.Background(), fastRetry(), zap.NewNop(), op)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

func TestRetryOperation_ExhaustsRetries(t *testing.T) {
	attempts := 0
	op := func() (*github.Response, error) {
		attempts++
		return responseWithStatus(http.StatusServiceUnavailable), errors.New("unavailable")
	}

	cfg := fastRetry()
	cfg.MaxRetries = 2
	_, err := retryOperation(context.Background(), cfg, zap.NewNop(), op)

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestRetryOperation_SecondaryRateLimitRetried(t *testing.T) {
	attempts := 0
	op := func() (*github.Response, error) {
		attempts++
		if attempts == 1 {
			resp := responseWithStatus(http.StatusForbidden)
			resp.Rate = github.Rate{Limit: 5000, Remaining: 0, Reset: github.Timestamp{Time: time.Now()}}
			return resp, errors.New("secondary rate limit")
		}
		return responseWithStatus(http.StatusOK), nil
	}

	_, err := retryOperation(context.Background(), fastRetry(), zap.NewNop(), op)

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryOperation_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := func() (*github.Response, error) {
		cancel()
		return responseWithStatus(http.StatusInternalServerError), errors.New("boom")
	}

	cfg := fastRetry()
	cfg.InitialBackoff = time.Minute
	_, err := retryOperation(ctx, cfg, zap.NewNop(), op)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation canceled")
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		resp *github.Response
		want bool
	}{
		{name: "429", resp: responseWithStatus(http.StatusTooManyRequests), want: true},
		{name: "500", resp: responseWithStatus(http.StatusInternalServerError), want: true},
		{name: "502", resp: responseWithStatus(http.StatusBadGateway), want: true},
		{name: "503", resp: responseWithStatus(http.StatusServiceUnavailable), want: true},
		{name: "504", resp: responseWithStatus(http.StatusGatewayTimeout), want: true},
		{name: "400", resp: responseWithStatus(http.StatusBadRequest), want: false},
		{name: "401", resp: responseWithStatus(http.StatusUnauthorized), want: false},
		{name: "403 plain", resp: responseWithStatus(http.StatusForbidden), want: false},
		{name: "404", resp: responseWithStatus(http.StatusNotFound), want: false},
		{name: "422", resp: responseWithStatus(http.StatusUnprocessableEntity), want: false},
		{name: "no response", resp: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(errors.New("x"), tt.resp))
		})
	}

	t.Run("403 with rate info", func(t *testing.T) {
		resp := responseWithStatus(http.StatusForbidden)
		resp.Rate = github.Rate{Limit: 5000}
		assert.True(t, isRetryableError(errors.New("x"), resp))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.False(t, isRetryableError(nil, responseWithStatus(http.StatusOK)))
	})
}

func TestRateLimitBackoff(t *testing.T) {
	t.Run("no rate info defaults to a minute", func(t *testing.T) {
		assert.Equal(t, time.Minute, rateLimitBackoff(nil, 2*time.Minute))
	})

	t.Run("reset in the past clamps to a second", func(t *testing.T) {
		resp := responseWithStatus(http.StatusForbidden)
		resp.Rate = github.Rate{Limit: 100, Reset: github.Timestamp{Time: time.Now().Add(-time.Hour)}}
		assert.Equal(t, time.Second, rateLimitBackoff(resp, time.Minute))
	})

	t.Run("reset beyond cap is capped", func(t *testing.T) {
		resp := responseWithStatus(http.StatusForbidden)
		resp.Rate = github.Rate{Limit: 100, Reset: github.Timestamp{Time: time.Now().Add(time.Hour)}}
		assert.Equal(t, 30*time.Second, rateLimitBackoff(resp, 30*time.Second))
	})
}
