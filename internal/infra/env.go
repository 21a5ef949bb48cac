// Package infra holds process-wide plumbing shared by the runtime: retry
// policy, the tuned HTTP client handed to provider SDKs, environment
// overrides, and file-system helpers.
package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RetryConfig tunes retry behavior for outgoing provider requests.
type RetryConfig struct {
	// InitialBackoff is the delay after the first failure.
	InitialBackoff time.Duration
	// BackoffFactor multiplies the delay after each attempt.
	BackoffFactor int
	// MaxAttempts caps the number of attempts, including the first.
	MaxAttempts int
	// StatusCodes lists the HTTP statuses that are retried.
	StatusCodes []int
	// SuppressErrors hides intermediate retry errors from the user surface.
	SuppressErrors bool
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	PoolIdleTimeout time.Duration
	MaxRedirects    int
}

// DefaultRetryConfig returns the baseline retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff: 1000 * time.Millisecond,
		BackoffFactor:  2,
		MaxAttempts:    3,
		StatusCodes:    []int{429, 500, 502, 503, 504, 408, 522},
	}
}

// DefaultHTTPConfig returns the baseline HTTP tuning.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     120 * time.Second,
		PoolIdleTimeout: 90 * time.Second,
		MaxRedirects:    10,
	}
}

// LoadRetryConfig reads FORGE_RETRY_* overrides on top of the defaults.
// Invalid values silently fall back to the default.
func LoadRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	if v, ok := envInt("FORGE_RETRY_INITIAL_BACKOFF_MS"); ok && v > 0 {
		cfg.InitialBackoff = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("FORGE_RETRY_BACKOFF_FACTOR"); ok && v > 0 {
		cfg.BackoffFactor = v
	}
	if v, ok := envInt("FORGE_RETRY_MAX_ATTEMPTS"); ok && v > 0 {
		cfg.MaxAttempts = v
	}
	if codes, ok := envIntList("FORGE_RETRY_STATUS_CODES"); ok {
		cfg.StatusCodes = codes
	}
	if v, ok := envBool("FORGE_SUPPRESS_RETRY_ERRORS"); ok {
		cfg.SuppressErrors = v
	}
	return cfg
}

// LoadHTTPConfig reads FORGE_HTTP_* overrides on top of the defaults.
// Invalid values silently fall back to the default.
func LoadHTTPConfig() HTTPConfig {
	cfg := DefaultHTTPConfig()
	if v, ok := envInt("FORGE_HTTP_CONNECT_TIMEOUT"); ok && v > 0 {
		cfg.ConnectTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("FORGE_HTTP_READ_TIMEOUT"); ok && v > 0 {
		cfg.ReadTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("FORGE_HTTP_POOL_IDLE_TIMEOUT"); ok && v > 0 {
		cfg.PoolIdleTimeout = time.Duration(v) * time.Second
	}
	if v, ok := envInt("FORGE_HTTP_MAX_REDIRECTS"); ok && v >= 0 {
		cfg.MaxRedirects = v
	}
	return cfg
}

// ShouldRetryStatus reports whether an HTTP status is retryable under the
// config.
func (c RetryConfig) ShouldRetryStatus(status int) bool {
	for _, code := range c.StatusCodes {
		if code == status {
			return true
		}
	}
	return false
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

func envIntList(key string) ([]int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, false
	}
	var codes []int
	for _, part := range strings.Split(raw, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, false
		}
		codes = append(codes, v)
	}
	if len(codes) == 0 {
		return nil, false
	}
	return codes, true
}
