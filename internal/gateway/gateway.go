// Package gateway ties the pipeline together: it discovers subgraphs,
// composes their schemas, and serves client operations against an
// atomically-swapped (schema, route table) snapshot. In-flight requests keep
// the snapshot they started with; updates never block requests.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	discovery "github.com/graphgate/graphgate/internal/discovery"
	eventbus "github.com/graphgate/graphgate/internal/eventbus"
	events "github.com/graphgate/graphgate/internal/events"
	executor "github.com/graphgate/graphgate/internal/executor"
	language "github.com/graphgate/graphgate/internal/language"
	planner "github.com/graphgate/graphgate/internal/planner"
	schema "github.com/graphgate/graphgate/internal/schema"
	transport "github.com/graphgate/graphgate/internal/transport"
	validation "github.com/graphgate/graphgate/internal/validation"
)

// snapshot is one immutable (schema, route table) pair.
type snapshot struct {
	schema  *schema.Schema
	table   transport.RouteTable
	fetcher *transport.HTTPFetcher
}

// Gateway serves client operations against the current snapshot.
type Gateway struct {
	source discovery.Source
	opts   *Options
	snap   atomic.Pointer[snapshot]
}

func New(source discovery.Source, opts ...Option) *Gateway {
	o := defaultGatewayOptions()
	for _, f := range opts {
		f(o)
	}
	return &Gateway{source: source, opts: o}
}

// Ready reports whether a composed schema is available.
func (g *Gateway) Ready() bool { return g.snap.Load() != nil }

// Schema returns the current composed schema, or nil before the first
// successful update.
func (g *Gateway) Schema() *schema.Schema {
	if snap := g.snap.Load(); snap != nil {
		return snap.schema
	}
	return nil
}

// Update fetches the service list, re-composes the schema, and swaps the
// snapshot. On any failure the previous snapshot is retained.
func (g *Gateway) Update(ctx context.Context) error {
	list, err := g.source.Services(ctx)
	if err != nil {
		g.publishUpdate(ctx, nil, err)
		return fmt.Errorf("discover services: %w", err)
	}
	table := list.RouteTable()
	fetcher := transport.NewHTTPFetcher(table, g.opts.transportOptions...)

	var composed *schema.Schema
	if g.opts.staticSchema != nil {
		composed = g.opts.staticSchema
	} else {
		services := make([]schema.ServiceSDL, len(list))
		for i, svc := range list {
			sdl, err := fetcher.Introspect(ctx, svc.Name)
			if err != nil {
				g.publishUpdate(ctx, list.Names(), err)
				return fmt.Errorf("introspect %q: %w", svc.Name, err)
			}
			services[i] = schema.ServiceSDL{Name: svc.Name, SDL: sdl}
		}
		composed, err = schema.Compose(services)
		if err != nil {
			g.publishUpdate(ctx, list.Names(), err)
			return fmt.Errorf("compose schema: %w", err)
		}
	}

	g.snap.Store(&snapshot{schema: composed, table: table, fetcher: fetcher})
	g.publishUpdate(ctx, list.Names(), nil)
	return nil
}

func (g *Gateway) publishUpdate(ctx context.Context, services []string, err error) {
	eventbus.Publish(ctx, events.SchemaUpdate{Services: services, Err: err})
}

// UpdateLoop keeps the snapshot fresh: the first composition is retried with
// exponential backoff, then the service list is re-polled on an interval
// until ctx is cancelled.
func (g *Gateway) UpdateLoop(ctx context.Context) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	_ = backoff.Retry(func() error { return g.Update(ctx) }, policy)

	ticker := time.NewTicker(g.opts.updateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A failed refresh keeps the previous snapshot; the next tick
			// tries again.
			_ = g.Update(ctx)
		}
	}
}

// Execute answers one query or mutation request.
func (g *Gateway) Execute(ctx context.Context, req *planner.Request) *planner.Response {
	snap := g.snap.Load()
	if snap == nil {
		return notReadyResponse()
	}

	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return parseErrorResponse(err)
	}

	builder := planner.NewPlanBuilder(snap.schema, doc).WithVariables(req.Variables)
	if req.OperationName != "" {
		builder = builder.WithOperationName(req.OperationName)
	}
	root, failure := builder.Plan()
	if failure != nil {
		return failure
	}
	if _, ok := root.(*planner.SubscribeNode); ok {
		return &planner.Response{Errors: []*planner.ServerError{
			planner.NewServerError("subscriptions must use the websocket transport"),
		}}
	}
	return executor.NewExecutor(snap.schema).Execute(ctx, snap.fetcher, root)
}

// NewSubscriptionController builds the per-client websocket controller bound
// to the current route table.
func (g *Gateway) NewSubscriptionController(initPayload []byte) (*transport.WSController, error) {
	snap := g.snap.Load()
	if snap == nil {
		return nil, fmt.Errorf("gateway is not ready")
	}
	return transport.NewWSController(snap.table, initPayload, g.opts.transportOptions...), nil
}

// Subscribe answers one subscription request with a response stream. Query
// and mutation operations sent over the websocket transport yield a stream of
// exactly one response.
func (g *Gateway) Subscribe(
	ctx context.Context,
	controller executor.SubscriptionController,
	id string,
	req *planner.Request,
) (<-chan *planner.Response, error) {
	snap := g.snap.Load()
	if snap == nil {
		return singleResponse(notReadyResponse()), nil
	}

	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return singleResponse(parseErrorResponse(err)), nil
	}

	builder := planner.NewPlanBuilder(snap.schema, doc).WithVariables(req.Variables)
	if req.OperationName != "" {
		builder = builder.WithOperationName(req.OperationName)
	}
	root, failure := builder.Plan()
	if failure != nil {
		return singleResponse(failure), nil
	}

	exec := executor.NewExecutor(snap.schema)
	if sub, ok := root.(*planner.SubscribeNode); ok {
		return exec.ExecuteStream(ctx, snap.fetcher, controller, id, sub)
	}
	return singleResponse(exec.Execute(ctx, snap.fetcher, root)), nil
}

// parseErrorResponse converts a parser error into a GraphQL response,
// preserving source positions.
func parseErrorResponse(err error) *planner.Response {
	serverErr := planner.NewServerError(err.Error())
	var gqlErr *language.Error
	if errors.As(err, &gqlErr) {
		serverErr.Message = gqlErr.Message
		for _, loc := range gqlErr.Locations {
			serverErr.Locations = append(serverErr.Locations, validation.Location{
				Line:   loc.Line,
				Column: loc.Column,
			})
		}
	}
	return &planner.Response{Errors: []*planner.ServerError{serverErr}}
}

func notReadyResponse() *planner.Response {
	return &planner.Response{Errors: []*planner.ServerError{planner.NewServerError("not ready")}}
}

func singleResponse(resp *planner.Response) <-chan *planner.Response {
	out := make(chan *planner.Response, 1)
	out <- resp
	close(out)
	return out
}
