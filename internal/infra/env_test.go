package infra

import (
	"testing"
	"time"
)

func TestLoadRetryConfigDefaults(t *testing.T) {
	cfg := LoadRetryConfig()
	if cfg.InitialBackoff != time.Second {
		t.Errorf("initial backoff = %v, want 1s", cfg.InitialBackoff)
	}
	if cfg.BackoffFactor != 2 || cfg.MaxAttempts != 3 {
		t.Errorf("cfg = %+v, want factor 2 attempts 3", cfg)
	}
	for _, code := range []int{429, 500, 502, 503, 504, 408, 522} {
		if !cfg.ShouldRetryStatus(code) {
			t.Errorf("status %d should be retryable", code)
		}
	}
	if cfg.ShouldRetryStatus(401) {
		t.Error("401 must not be retryable")
	}
}

func TestLoadRetryConfigOverrides(t *testing.T) {
	t.Setenv("FORGE_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("FORGE_RETRY_INITIAL_BACKOFF_MS", "250")
	t.Setenv("FORGE_RETRY_STATUS_CODES", "429, 503")
	t.Setenv("FORGE_SUPPRESS_RETRY_ERRORS", "true")

	cfg := LoadRetryConfig()
	if cfg.MaxAttempts != 5 {
		t.Errorf("attempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("backoff = %v, want 250ms", cfg.InitialBackoff)
	}
	if !cfg.ShouldRetryStatus(503) || cfg.ShouldRetryStatus(500) {
		t.Errorf("status codes = %v, want only 429 and 503", cfg.StatusCodes)
	}
	if !cfg.SuppressErrors {
		t.Error("suppress errors not applied")
	}
}

func TestInvalidEnvFallsBackSilently(t *testing.T) {
	t.Setenv("FORGE_RETRY_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("FORGE_HTTP_CONNECT_TIMEOUT", "soon")

	if got := LoadRetryConfig().MaxAttempts; got != 3 {
		t.Errorf("attempts = %d, want default 3", got)
	}
	if got := LoadHTTPConfig().ConnectTimeout; got != 10*time.Second {
		t.Errorf("connect timeout = %v, want default 10s", got)
	}
}

func TestLoadHTTPConfigDefaults(t *testing.T) {
	cfg := LoadHTTPConfig()
	if cfg.ConnectTimeout != 10*time.Second ||
		cfg.ReadTimeout != 120*time.Second ||
		cfg.PoolIdleTimeout != 90*time.Second ||
		cfg.MaxRedirects != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
}
