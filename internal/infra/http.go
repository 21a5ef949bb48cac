package infra

import (
	"fmt"
	"net"
	"net/http"
)

// NewHTTPClient builds the process-wide HTTP client handed to provider SDK
// clients. Connect, read, and pool-idle timeouts plus the redirect cap come
// from the config.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		IdleConnTimeout:       cfg.PoolIdleTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		},
	}
}
