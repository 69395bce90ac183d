package introspection

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	language "github.com/graphgate/graphgate/internal/language"
	planner "github.com/graphgate/graphgate/internal/planner"
	schema "github.com/graphgate/graphgate/internal/schema"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
  me: User @resolve(service: "accounts")
}

type User @owner(service: "accounts") @key(fields: "id", service: "accounts") {
  id: ID!
  username: String!
}
`

func introspect(t *testing.T, query string) map[string]any {
	t.Helper()
	s, err := schema.Parse(testSDL)
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)

	root, resp := planner.NewPlanBuilder(s, doc).Plan()
	require.Nil(t, resp)
	node, ok := root.(*planner.IntrospectionNode)
	require.True(t, ok, "got %T", root)
	return Resolve(s, node.SelectionSet)
}

func TestResolve_SchemaRootTypes(t *testing.T) {
	got := introspect(t, `{ __schema { queryType { name kind } mutationType { name } } }`)
	want := map[string]any{
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query", "kind": "OBJECT"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_TypeByName_WrappedTypes(t *testing.T) {
	got := introspect(t, `{ __type(name: "User") { name kind fields { name type { kind ofType { name } } } } }`)
	want := map[string]any{
		"__type": map[string]any{
			"name": "User",
			"kind": "OBJECT",
			"fields": []any{
				map[string]any{
					"name": "id",
					"type": map[string]any{"kind": "NON_NULL", "ofType": map[string]any{"name": "ID"}},
				},
				map[string]any{
					"name": "username",
					"type": map[string]any{"kind": "NON_NULL", "ofType": map[string]any{"name": "String"}},
				},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_UnknownType_Null(t *testing.T) {
	got := introspect(t, `{ __type(name: "Ghost") { name } }`)
	if diff := cmp.Diff(map[string]any{"__type": nil}, got); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve_Alias(t *testing.T) {
	got := introspect(t, `{ u: __type(name: "User") { name } }`)
	if diff := cmp.Diff(map[string]any{"u": map[string]any{"name": "User"}}, got); diff != "" {
		t.Fatalf("introspection mismatch (-want +got):\n%s", diff)
	}
}
