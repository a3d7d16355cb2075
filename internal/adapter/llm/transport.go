package llm

import (
	"net"
	"net/http"
	"time"

	"chatstream/internal/infra/config"
)

// Pool defaults for a handful of backend hosts serving many concurrent
// long-lived streams.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

// NewPooledTransport returns a pooled transport. connTimeout bounds the dial
// and respTimeout bounds the wait for response headers; the body itself is
// unbounded so long generations are not cut off.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   pick(connTimeout, defaultConnTimeout),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: pick(respTimeout, defaultRespTimeout),
		MaxIdleConns:          positive(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   positive(pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       positive(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       positive(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient builds the client shared by the HTTP-backed providers. It
// sets no overall Timeout: request lifetime is governed by the caller's
// context, which the stream service cancels on teardown.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}

func positive[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
