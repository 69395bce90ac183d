package transport

import (
	"context"
	"net/http"
)

type headerKey struct{}

// WithOutgoingHeader returns a context carrying headers to forward on every
// subgraph call made under it.
func WithOutgoingHeader(ctx context.Context, header http.Header) context.Context {
	if len(header) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headerKey{}, header)
}

// OutgoingHeader extracts forwarded headers from ctx.
func OutgoingHeader(ctx context.Context) http.Header {
	header, _ := ctx.Value(headerKey{}).(http.Header)
	return header
}
