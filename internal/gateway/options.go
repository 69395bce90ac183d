package gateway

import (
	"time"

	schema "github.com/graphgate/graphgate/internal/schema"
	transport "github.com/graphgate/graphgate/internal/transport"
)

type Options struct {
	updateInterval   time.Duration
	transportOptions []transport.Option
	staticSchema     *schema.Schema
}

type Option func(*Options)

func defaultGatewayOptions() *Options {
	return &Options{updateInterval: 30 * time.Second}
}

// WithUpdateInterval sets how often the service list is re-polled and the
// subgraphs re-introspected.
func WithUpdateInterval(d time.Duration) Option {
	return func(o *Options) { o.updateInterval = d }
}

// WithTransportOptions passes options to the subgraph fetchers.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *Options) { o.transportOptions = opts }
}

// WithStaticSchema uses a pre-composed schema instead of introspecting the
// subgraphs on every update.
func WithStaticSchema(s *schema.Schema) Option {
	return func(o *Options) { o.staticSchema = s }
}
