package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	language "github.com/graphgate/graphgate/internal/language"
	planner "github.com/graphgate/graphgate/internal/planner"
	schema "github.com/graphgate/graphgate/internal/schema"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
  me: User @resolve(service: "accounts")
  topProducts: [Product!]! @resolve(service: "products")
  search(term: String!): [SearchItem!] @resolve(service: "products")
}

type Subscription {
  users: User @resolve(service: "accounts")
}

type User @owner(service: "accounts") @key(fields: "id", service: "accounts") @key(fields: "id", service: "reviews") {
  id: ID!
  username: String!
  reviews: [Review!] @resolve(service: "reviews")
}

type Product @owner(service: "products") @key(fields: "upc", service: "products") @key(fields: "upc", service: "reviews") {
  upc: String!
  name: String!
  price: Int!
  reviews: [Review!] @resolve(service: "reviews")
}

type Review @owner(service: "reviews") {
  body: String!
}

union SearchItem = User | Product
`

type call struct {
	Service string
	Request *planner.Request
}

// mockFetcher answers per-service canned responses and records every call.
type mockFetcher struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]func(req *planner.Request) (*planner.Response, error)
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{handlers: map[string]func(req *planner.Request) (*planner.Response, error){}}
}

func (m *mockFetcher) handle(service string, fn func(req *planner.Request) (*planner.Response, error)) {
	m.handlers[service] = fn
}

func (m *mockFetcher) respond(service string, data map[string]any) {
	m.handle(service, func(*planner.Request) (*planner.Response, error) {
		return &planner.Response{Data: data}, nil
	})
}

func (m *mockFetcher) Fetch(ctx context.Context, service string, req *planner.Request) (*planner.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{Service: service, Request: req})
	m.mu.Unlock()
	handler := m.handlers[service]
	if handler == nil {
		return nil, fmt.Errorf("no handler for service %q", service)
	}
	return handler(req)
}

func (m *mockFetcher) services() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Service
	}
	return out
}

func plan(t *testing.T, s *schema.Schema, query string) planner.RootNode {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	root, resp := planner.NewPlanBuilder(s, doc).Plan()
	if resp != nil {
		t.Fatalf("plan failed: %+v", resp.Errors)
	}
	return root
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(testSDL)
	require.NoError(t, err)
	return s
}

func TestExecute_CrossServiceJoin_SplicesInOrder(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("products", map[string]any{
		"topProducts": []any{
			map[string]any{"upc": "top-1", "name": "Trilby", "__key1___typename": "Product", "__key1_upc": "top-1"},
			map[string]any{"upc": "top-2", "name": "Fedora", "__key1___typename": "Product", "__key1_upc": "top-2"},
		},
	})
	fetcher.handle("reviews", func(req *planner.Request) (*planner.Response, error) {
		wantReps := []any{
			map[string]any{"__typename": "Product", "upc": "top-1"},
			map[string]any{"__typename": "Product", "upc": "top-2"},
		}
		if diff := cmp.Diff(wantReps, req.Variables["representations"]); diff != "" {
			t.Errorf("representations mismatch (-want +got):\n%s", diff)
		}
		return &planner.Response{Data: map[string]any{
			"_entities": []any{
				map[string]any{"reviews": []any{map[string]any{"body": "first"}}},
				map[string]any{"reviews": []any{map[string]any{"body": "second"}}},
			},
		}}, nil
	})

	root := plan(t, s, `{ topProducts { upc name reviews { body } } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Empty(t, resp.Errors)
	want := map[string]any{
		"topProducts": []any{
			map[string]any{"upc": "top-1", "name": "Trilby", "reviews": []any{map[string]any{"body": "first"}}},
			map[string]any{"upc": "top-2", "name": "Fedora", "reviews": []any{map[string]any{"body": "second"}}},
		},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"products", "reviews"}, fetcher.services()); diff != "" {
		t.Fatalf("fetch order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_ParallelSiblings_PartialFailure(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("accounts", map[string]any{"me": map[string]any{"username": "Me"}})
	fetcher.handle("products", func(*planner.Request) (*planner.Response, error) {
		return nil, errors.New("connection refused")
	})

	root := plan(t, s, `{ me { username } topProducts { name } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	if diff := cmp.Diff(map[string]any{"me": map[string]any{"username": "Me"}}, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, resp.Errors, 1)
	if got := resp.Errors[0].Extensions["code"]; got != "UpstreamNetworkError" {
		t.Fatalf("error code = %v, want UpstreamNetworkError", got)
	}
}

func TestExecute_Timeout_KindPreserved(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.handle("accounts", func(*planner.Request) (*planner.Response, error) {
		return nil, fmt.Errorf("query accounts: %w", context.DeadlineExceeded)
	})

	root := plan(t, s, `{ me { username } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Len(t, resp.Errors, 1)
	if got := resp.Errors[0].Extensions["code"]; got != "UpstreamTimeout" {
		t.Fatalf("error code = %v, want UpstreamTimeout", got)
	}
}

func TestExecute_FlattenErrors_PathPrefixed(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("products", map[string]any{
		"topProducts": []any{
			map[string]any{"upc": "top-1", "__key1___typename": "Product", "__key1_upc": "top-1"},
		},
	})
	fetcher.handle("reviews", func(*planner.Request) (*planner.Response, error) {
		return &planner.Response{
			Data:   nil,
			Errors: []*planner.ServerError{{Message: "boom", Path: []any{"_entities", 0}}},
		}, nil
	})

	root := plan(t, s, `{ topProducts { upc reviews { body } } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Len(t, resp.Errors, 1)
	if diff := cmp.Diff([]any{"topProducts", "_entities", 0}, resp.Errors[0].Path); diff != "" {
		t.Fatalf("error path mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_AbstractFlatten_FiltersByTypename(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("products", map[string]any{
		"search": []any{
			map[string]any{"__typename": "Product", "name": "Trilby"},
			map[string]any{"__typename": "User", "__key1___typename": "User", "__key1_id": "1234"},
		},
	})
	fetcher.handle("accounts", func(req *planner.Request) (*planner.Response, error) {
		wantReps := []any{map[string]any{"__typename": "User", "id": "1234"}}
		if diff := cmp.Diff(wantReps, req.Variables["representations"]); diff != "" {
			t.Errorf("representations mismatch (-want +got):\n%s", diff)
		}
		return &planner.Response{Data: map[string]any{
			"_entities": []any{map[string]any{"username": "Me"}},
		}}, nil
	})

	root := plan(t, s, `{ search(term: "x") { __typename ... on Product { name } ... on User { username } } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Empty(t, resp.Errors)
	want := map[string]any{
		"search": []any{
			map[string]any{"__typename": "Product", "name": "Trilby"},
			map[string]any{"__typename": "User", "username": "Me"},
		},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_EmptyRepresentations_SkipsFetch(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("products", map[string]any{"topProducts": []any{}})

	root := plan(t, s, `{ topProducts { upc reviews { body } } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Empty(t, resp.Errors)
	if diff := cmp.Diff([]string{"products"}, fetcher.services()); diff != "" {
		t.Fatalf("fetch order mismatch (-want +got):\n%s", diff)
	}
}

func TestExecute_Introspection_MergedWithFetch(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.respond("accounts", map[string]any{"me": map[string]any{"id": "1234"}})

	root := plan(t, s, `{ __schema { queryType { name } } me { id } }`)
	resp := NewExecutor(s).Execute(context.Background(), fetcher, root)

	require.Empty(t, resp.Errors)
	want := map[string]any{
		"__schema": map[string]any{"queryType": map[string]any{"name": "Query"}},
		"me":       map[string]any{"id": "1234"},
	}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

// mockController captures the executor's event channel so tests can feed
// upstream events directly.
type mockController struct {
	mu         sync.Mutex
	events     chan<- *planner.Response
	subscribed []string
	stopped    int
}

func (m *mockController) Subscribe(ctx context.Context, id, service string, req *planner.Request, events chan<- *planner.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
	m.subscribed = append(m.subscribed, service)
	return nil
}

func (m *mockController) Stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func TestExecuteStream_PerEventFlatten_SourceOrder(t *testing.T) {
	s := testSchema(t)
	fetcher := newMockFetcher()
	fetcher.handle("reviews", func(req *planner.Request) (*planner.Response, error) {
		return &planner.Response{Data: map[string]any{
			"_entities": []any{
				map[string]any{"reviews": []any{map[string]any{"body": "ok"}}},
			},
		}}, nil
	})

	root := plan(t, s, `subscription { users { id username reviews { body } } }`)
	sub, ok := root.(*planner.SubscribeNode)
	require.True(t, ok, "got %T", root)

	controller := &mockController{}
	out, err := NewExecutor(s).ExecuteStream(context.Background(), fetcher, controller, "sub-1", sub)
	require.NoError(t, err)
	require.Equal(t, []string{"accounts"}, controller.subscribed)

	event := func(id string) *planner.Response {
		return &planner.Response{Data: map[string]any{
			"users": map[string]any{
				"id": id, "username": "Me",
				"__key1___typename": "User", "__key1_id": id,
			},
		}}
	}
	go func() {
		controller.events <- event("1")
		controller.events <- event("2")
		close(controller.events)
	}()

	var ids []string
	for resp := range out {
		users := resp.Data.(map[string]any)["users"].(map[string]any)
		ids = append(ids, users["id"].(string))
		if _, leaked := users["__key1_id"]; leaked {
			t.Fatalf("synthetic key leaked into event payload: %v", users)
		}
		if diff := cmp.Diff([]any{map[string]any{"body": "ok"}}, users["reviews"]); diff != "" {
			t.Fatalf("reviews mismatch (-want +got):\n%s", diff)
		}
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	if controller.stopped == 0 {
		t.Fatalf("controller was not stopped after upstream completion")
	}
}

func TestExecuteStream_SubscribeError_StopsController(t *testing.T) {
	s := testSchema(t)
	root := plan(t, s, `subscription { users { id username } }`)
	sub := root.(*planner.SubscribeNode)

	controller := &failingController{}
	_, err := NewExecutor(s).ExecuteStream(context.Background(), newMockFetcher(), controller, "sub-1", sub)
	require.Error(t, err)
	if controller.stopped == 0 {
		t.Fatalf("controller must be stopped on subscribe failure")
	}
}

func TestExecuteStream_ContextCancel_TearsDown(t *testing.T) {
	s := testSchema(t)
	root := plan(t, s, `subscription { users { id username } }`)
	sub := root.(*planner.SubscribeNode)

	controller := &mockController{}
	ctx, cancel := context.WithCancel(context.Background())
	out, err := NewExecutor(s).ExecuteStream(ctx, newMockFetcher(), controller, "sub-1", sub)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-out:
		require.False(t, ok, "expected closed stream")
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancellation")
	}
	controller.mu.Lock()
	defer controller.mu.Unlock()
	if controller.stopped == 0 {
		t.Fatalf("controller was not stopped on cancellation")
	}
}

type failingController struct{ stopped int }

func (f *failingController) Subscribe(context.Context, string, string, *planner.Request, chan<- *planner.Response) error {
	return errors.New("connect timeout")
}

func (f *failingController) Stop(string) { f.stopped++ }
