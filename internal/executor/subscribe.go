package executor

import (
	"context"

	planner "github.com/graphgate/graphgate/internal/planner"
)

// SubscriptionController manages persistent subscription connections to
// subgraphs. One controller instance serves one client connection.
type SubscriptionController interface {
	// Subscribe opens the subscription id on service and delivers every
	// event payload to events, in source order. The events channel is
	// closed when every subscription registered under id completes.
	Subscribe(ctx context.Context, id, service string, req *planner.Request, events chan<- *planner.Response) error

	// Stop cancels the subscription id and its upstream streams.
	Stop(id string)
}

// ExecuteStream runs a subscription plan: it opens the upstream
// subscriptions and, for each incoming event, runs the per-event flatten plan
// against the other services with the event payload as the parent entity.
// The returned channel is closed when the upstream completes or ctx is done.
func (e *Executor) ExecuteStream(
	ctx context.Context,
	fetcher Fetcher,
	controller SubscriptionController,
	id string,
	node *planner.SubscribeNode,
) (<-chan *planner.Response, error) {
	events := make(chan *planner.Response)
	for _, fetch := range node.SubscribeNodes {
		if err := controller.Subscribe(ctx, id, fetch.Service, fetch.ToRequest(), events); err != nil {
			controller.Stop(id)
			return nil, err
		}
	}

	out := make(chan *planner.Response)
	go func() {
		defer close(out)
		defer controller.Stop(id)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				resp := e.resolveEvent(ctx, fetcher, node, event)
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// resolveEvent applies the per-event flatten plan to one subscription payload.
func (e *Executor) resolveEvent(
	ctx context.Context,
	fetcher Fetcher,
	node *planner.SubscribeNode,
	event *planner.Response,
) *planner.Response {
	if node.FlattenNode == nil || event == nil || event.Data == nil {
		if event != nil {
			stripSyntheticKeys(event.Data)
		}
		return event
	}
	st := &execState{schema: e.schema, fetcher: fetcher, resp: event}
	st.executeNode(ctx, node.FlattenNode)
	stripSyntheticKeys(st.resp.Data)
	return st.resp
}
