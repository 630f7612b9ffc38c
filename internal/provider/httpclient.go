package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// pooled is shared by every client so providers reuse connections.
var pooled = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

// SharedHTTPClient returns a client over the shared transport. The timeout
// bounds a whole request, streamed body included.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout, Transport: pooled()}
}

func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return SharedHTTPClient(0)
	}
	return c
}
