package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	eventbus "github.com/graphgate/graphgate/internal/eventbus"
	events "github.com/graphgate/graphgate/internal/events"
	planner "github.com/graphgate/graphgate/internal/planner"
)

// HTTPFetcher sends queries and mutations to subgraphs over HTTP POST. It
// implements executor.Fetcher.
type HTTPFetcher struct {
	table RouteTable
	opts  *Options
}

func NewHTTPFetcher(table RouteTable, opts ...Option) *HTTPFetcher {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &HTTPFetcher{table: table, opts: o}
}

// Fetch posts the request to the service's query endpoint.
func (f *HTTPFetcher) Fetch(ctx context.Context, service string, req *planner.Request) (*planner.Response, error) {
	route, ok := f.table.Route(service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}
	return f.post(ctx, service, route.queryURL(), req)
}

// Introspect queries the service for its federation SDL at the introspection
// endpoint.
func (f *HTTPFetcher) Introspect(ctx context.Context, service string) (string, error) {
	route, ok := f.table.Route(service)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}
	resp, err := f.post(ctx, service, route.introspectionURL(), planner.NewRequest("{ _service { sdl } }"))
	if err != nil {
		return "", err
	}
	if len(resp.Errors) > 0 {
		return "", fmt.Errorf("service %q: %s", service, resp.Errors[0].Message)
	}
	data, _ := resp.Data.(map[string]any)
	svc, _ := data["_service"].(map[string]any)
	sdl, _ := svc["sdl"].(string)
	if sdl == "" {
		return "", fmt.Errorf("service %q returned no federation SDL", service)
	}
	return sdl, nil
}

func (f *HTTPFetcher) post(ctx context.Context, service, url string, req *planner.Request) (*planner.Response, error) {
	if _, ok := ctx.Deadline(); !ok && f.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	eventbus.Publish(ctx, events.FetchStart{Service: service, URL: url, Query: req.Query})

	resp, err := f.doPost(ctx, url, req)
	eventbus.Publish(ctx, events.FetchFinish{
		Service:  service,
		URL:      url,
		Err:      err,
		Duration: time.Since(start),
	})
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", service, err)
	}
	return resp, nil
}

func (f *HTTPFetcher) doPost(ctx context.Context, url string, req *planner.Request) (*planner.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, values := range f.opts.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	for key, values := range OutgoingHeader(ctx) {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	httpResp, err := f.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", httpResp.StatusCode)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	var out planner.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid response body: %w", err)
	}

	out.Headers = map[string]string{}
	for key := range httpResp.Header {
		out.Headers[key] = httpResp.Header.Get(key)
	}
	return &out, nil
}
