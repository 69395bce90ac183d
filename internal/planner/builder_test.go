package planner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
  me: User @resolve(service: "accounts")
  topProducts(first: Int): [Product!]! @resolve(service: "products")
  search(term: String!): [SearchItem!] @resolve(service: "products")
}

type Mutation {
  createUser(username: String!): User @resolve(service: "accounts")
  createProduct(upc: String!): Product @resolve(service: "products")
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
  author: User!
  authorPreview: User! @provides(fields: "username")
  product: Product!
}

union SearchItem = User | Product
`

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse(testSDL)
	require.NoError(t, err)
	return s
}

func buildPlan(t *testing.T, query string, variables map[string]any) RootNode {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	builder := NewPlanBuilder(testSchema(t), doc)
	if variables != nil {
		builder = builder.WithVariables(variables)
	}
	root, resp := builder.Plan()
	if resp != nil {
		t.Fatalf("plan failed: %+v", resp.Errors)
	}
	return root
}

// dump renders a plan into nested maps for comparison.
func dump(n Node) any {
	switch n := n.(type) {
	case *SequenceNode:
		children := make([]any, len(n.Nodes))
		for i, child := range n.Nodes {
			children[i] = dump(child)
		}
		return map[string]any{"type": "sequence", "nodes": children}
	case *ParallelNode:
		children := make([]any, len(n.Nodes))
		for i, child := range n.Nodes {
			children[i] = dump(child)
		}
		return map[string]any{"type": "parallel", "nodes": children}
	case *FetchNode:
		out := map[string]any{"type": "fetch", "service": n.Service, "query": n.Query}
		if len(n.Variables) > 0 {
			out["variables"] = n.Variables
		}
		return out
	case *FlattenNode:
		return map[string]any{
			"type":    "flatten",
			"path":    n.Path.String(),
			"prefix":  n.Prefix,
			"service": n.Service,
			"query":   n.Query,
		}
	case *IntrospectionNode:
		return map[string]any{"type": "introspection"}
	}
	return nil
}

func requirePlan(t *testing.T, got RootNode, want any) {
	t.Helper()
	node, ok := got.(Node)
	require.True(t, ok, "expected a query plan root, got %T", got)
	if diff := cmp.Diff(want, dump(node)); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_SingleService_OneFetch(t *testing.T) {
	root := buildPlan(t, `{ me { id username } }`, nil)
	requirePlan(t, root, map[string]any{
		"type":    "fetch",
		"service": "accounts",
		"query":   "query { me { id username } }",
	})
}

func TestPlan_CrossServiceJoin_FetchThenFlatten(t *testing.T) {
	root := buildPlan(t, `{ topProducts { upc name price reviews { body } } }`, nil)
	requirePlan(t, root, map[string]any{
		"type": "sequence",
		"nodes": []any{
			map[string]any{
				"type":    "fetch",
				"service": "products",
				"query":   "query { topProducts { upc name price __key1___typename:__typename __key1_upc:upc } }",
			},
			map[string]any{
				"type":    "flatten",
				"path":    "[topProducts]",
				"prefix":  1,
				"service": "reviews",
				"query":   "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on Product { reviews { body } } } }",
			},
		},
	})
}

func TestPlan_ThreeHop_ChainedFlattens(t *testing.T) {
	root := buildPlan(t, `{ topProducts { reviews { author { username } } } }`, nil)
	requirePlan(t, root, map[string]any{
		"type": "sequence",
		"nodes": []any{
			map[string]any{
				"type":    "fetch",
				"service": "products",
				"query":   "query { topProducts { __key1___typename:__typename __key1_upc:upc } }",
			},
			map[string]any{
				"type":    "flatten",
				"path":    "[topProducts]",
				"prefix":  1,
				"service": "reviews",
				"query":   "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on Product { reviews { author { __key2___typename:__typename __key2_id:id } } } } }",
			},
			map[string]any{
				"type":    "flatten",
				"path":    "[topProducts].[reviews].author",
				"prefix":  2,
				"service": "accounts",
				"query":   "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on User { username } } }",
			},
		},
	})
}

func TestPlan_Siblings_Parallel(t *testing.T) {
	root := buildPlan(t, `{ me { username } topProducts { name } }`, nil)
	requirePlan(t, root, map[string]any{
		"type": "parallel",
		"nodes": []any{
			map[string]any{
				"type":    "fetch",
				"service": "accounts",
				"query":   "query { me { username } }",
			},
			map[string]any{
				"type":    "fetch",
				"service": "products",
				"query":   "query { topProducts { name } }",
			},
		},
	})
}

func TestPlan_Mutation_Sequential(t *testing.T) {
	root := buildPlan(t,
		`mutation { a: createUser(username: "nerd") { id } b: createProduct(upc: "top-9") { upc } }`, nil)
	requirePlan(t, root, map[string]any{
		"type": "sequence",
		"nodes": []any{
			map[string]any{
				"type":    "fetch",
				"service": "accounts",
				"query":   `mutation { a:createUser(username: "nerd") { id } }`,
			},
			map[string]any{
				"type":    "fetch",
				"service": "products",
				"query":   `mutation { b:createProduct(upc: "top-9") { upc } }`,
			},
		},
	})
}

func TestPlan_Mutation_ContiguousRunsMerge(t *testing.T) {
	root := buildPlan(t, `mutation {
  a: createUser(username: "a") { id }
  b: createUser(username: "b") { id }
  c: createProduct(upc: "x") { upc }
  d: createUser(username: "d") { id }
}`, nil)

	seq, ok := root.(*SequenceNode)
	require.True(t, ok, "got %T", root)
	require.Len(t, seq.Nodes, 3)
	services := []string{}
	for _, n := range seq.Nodes {
		services = append(services, n.(*FetchNode).Service)
	}
	if diff := cmp.Diff([]string{"accounts", "products", "accounts"}, services); diff != "" {
		t.Fatalf("service runs mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_Subscription_PerEventFlatten(t *testing.T) {
	root := buildPlan(t, `subscription { users { id username reviews { body } } }`, nil)
	sub, ok := root.(*SubscribeNode)
	require.True(t, ok, "got %T", root)

	require.Len(t, sub.SubscribeNodes, 1)
	fetch := sub.SubscribeNodes[0]
	if fetch.Service != "accounts" {
		t.Fatalf("subscribe service = %q, want accounts", fetch.Service)
	}
	wantQuery := "subscription { users { id username __key1___typename:__typename __key1_id:id } }"
	if diff := cmp.Diff(wantQuery, fetch.Query); diff != "" {
		t.Fatalf("subscribe query mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, sub.FlattenNode)
	if diff := cmp.Diff(map[string]any{
		"type":    "flatten",
		"path":    "users",
		"prefix":  1,
		"service": "reviews",
		"query":   "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on User { reviews { body } } } }",
	}, dump(sub.FlattenNode)); diff != "" {
		t.Fatalf("flatten mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_VariableProjection(t *testing.T) {
	root := buildPlan(t,
		`query($first: Int) { topProducts(first: $first) { name } me { username } }`,
		map[string]any{"first": 3, "unrelated": "x"})

	par, ok := root.(*ParallelNode)
	require.True(t, ok, "got %T", root)
	products := par.Nodes[0].(*FetchNode)
	if diff := cmp.Diff("query($first: Int) { topProducts(first: $first) { name } }", products.Query); diff != "" {
		t.Fatalf("query mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"first": 3}, products.Variables); diff != "" {
		t.Fatalf("variables mismatch (-want +got):\n%s", diff)
	}
	accounts := par.Nodes[1].(*FetchNode)
	if len(accounts.Variables) != 0 {
		t.Fatalf("accounts fetch should project no variables, got %v", accounts.Variables)
	}
}

func TestPlan_ProvidesFastPath_NoExtraFetch(t *testing.T) {
	root := buildPlan(t, `{ topProducts { reviews { authorPreview { id username } } } }`, nil)

	seq, ok := root.(*SequenceNode)
	require.True(t, ok, "got %T", root)
	require.Len(t, seq.Nodes, 2, "provides must suppress the accounts fetch")
	flatten := seq.Nodes[1].(*FlattenNode)
	if flatten.Service != "reviews" {
		t.Fatalf("flatten service = %q, want reviews", flatten.Service)
	}
	wantQuery := "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on Product { reviews { authorPreview { id username } } } } }"
	if diff := cmp.Diff(wantQuery, flatten.Query); diff != "" {
		t.Fatalf("flatten query mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_FetchMinimality_SharedEntityFetch(t *testing.T) {
	root := buildPlan(t, `{ topProducts { first: reviews { body } second: reviews { body } } }`, nil)

	seq, ok := root.(*SequenceNode)
	require.True(t, ok, "got %T", root)
	require.Len(t, seq.Nodes, 2, "both selections must share one entity fetch")
	flatten := seq.Nodes[1].(*FlattenNode)
	wantQuery := "query($representations:[_Any!]!) { _entities(representations:$representations) { ... on Product { first:reviews { body } second:reviews { body } } } }"
	if diff := cmp.Diff(wantQuery, flatten.Query); diff != "" {
		t.Fatalf("flatten query mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_AbstractType_BranchPerConcreteType(t *testing.T) {
	root := buildPlan(t, `{ search(term: "hat") { __typename ... on Product { name } ... on User { username } } }`, nil)

	seq, ok := root.(*SequenceNode)
	require.True(t, ok, "got %T", root)
	require.Len(t, seq.Nodes, 2)

	fetch := seq.Nodes[0].(*FetchNode)
	if fetch.Service != "products" {
		t.Fatalf("root fetch service = %q", fetch.Service)
	}
	// User.username is owned by accounts: the User branch carries key fields
	// and a per-type flatten follows.
	flatten := seq.Nodes[1].(*FlattenNode)
	if flatten.Service != "accounts" {
		t.Fatalf("flatten service = %q, want accounts", flatten.Service)
	}
	if diff := cmp.Diff("[search](User)", flatten.Path.String()); diff != "" {
		t.Fatalf("flatten path mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_Introspection_ResolvedLocally(t *testing.T) {
	root := buildPlan(t, `{ __schema { queryType { name } } me { id } }`, nil)

	seq, ok := root.(*SequenceNode)
	require.True(t, ok, "got %T", root)
	require.Len(t, seq.Nodes, 2)
	intro, ok := seq.Nodes[0].(*IntrospectionNode)
	require.True(t, ok, "got %T", seq.Nodes[0])
	require.Len(t, intro.SelectionSet, 1)
	if intro.SelectionSet[0].Name != "__schema" {
		t.Fatalf("introspection field = %q", intro.SelectionSet[0].Name)
	}
	if _, ok := seq.Nodes[1].(*FetchNode); !ok {
		t.Fatalf("expected fetch after introspection, got %T", seq.Nodes[1])
	}
}

func TestPlan_ValidationFailure_ReturnsResponse(t *testing.T) {
	doc, err := language.ParseQuery(`{ me { karma } }`)
	require.NoError(t, err)
	root, resp := NewPlanBuilder(testSchema(t), doc).Plan()
	require.Nil(t, root)
	require.NotNil(t, resp)
	require.NotEmpty(t, resp.Errors)
}
