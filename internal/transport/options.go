package transport

import (
	"net/http"
	"time"
)

// Options configures the subgraph transport.
//
// Defaults:
// - RequestTimeout: 30s (used only if the incoming context has no deadline)
// - ConnectTimeout: 5s (websocket connection_init handshake)
// - HTTPClient:     http.DefaultClient
type Options struct {
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Header         http.Header
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		HTTPClient:     http.DefaultClient,
		RequestTimeout: 30 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

func WithHTTPClient(client *http.Client) Option { return func(o *Options) { o.HTTPClient = client } }
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }
func WithConnectTimeout(d time.Duration) Option { return func(o *Options) { o.ConnectTimeout = d } }

// WithHeader forwards the given headers on every subgraph call.
func WithHeader(header http.Header) Option { return func(o *Options) { o.Header = header } }
