package schema

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const accountsSDL = `
extend type Query {
  me: User
}

extend type Subscription {
  users: User
}

type User @key(fields: "id") {
  id: ID!
  username: String!
}
`

const productsSDL = `
extend type Query {
  topProducts: [Product!]!
}

type Product @key(fields: "upc") {
  upc: String!
  name: String!
  price: Int!
}
`

const reviewsSDL = `
type Review {
  body: String!
  author: User!
  product: Product!
}

extend type User @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]
}

extend type Product @key(fields: "upc") {
  upc: String! @external
  reviews: [Review!]
}
`

func testServices() []ServiceSDL {
	return []ServiceSDL{
		{Name: "accounts", SDL: accountsSDL},
		{Name: "products", SDL: productsSDL},
		{Name: "reviews", SDL: reviewsSDL},
	}
}

func TestCompose_Federation_OwnersAndServices(t *testing.T) {
	s, err := Compose(testServices())
	require.NoError(t, err)

	user := s.Types["User"]
	require.NotNil(t, user)
	if user.Owner != "accounts" {
		t.Fatalf("User owner = %q, want accounts", user.Owner)
	}
	if got := user.FieldByName("reviews").Service; got != "reviews" {
		t.Fatalf("User.reviews service = %q, want reviews", got)
	}
	if got := user.FieldByName("username").Service; got != "" {
		t.Fatalf("User.username service = %q, want owner resolution", got)
	}

	// Root fields always carry the contributing service.
	query := s.GetQueryType()
	if got := query.FieldByName("me").Service; got != "accounts" {
		t.Fatalf("Query.me service = %q, want accounts", got)
	}
	if got := query.FieldByName("topProducts").Service; got != "products" {
		t.Fatalf("Query.topProducts service = %q, want products", got)
	}
	if got := s.GetSubscriptionType().FieldByName("users").Service; got != "accounts" {
		t.Fatalf("Subscription.users service = %q, want accounts", got)
	}

	// Mutation had no contributions and is dropped.
	if s.MutationType != "" {
		t.Fatalf("MutationType = %q, want empty", s.MutationType)
	}
}

func TestCompose_Federation_Keys(t *testing.T) {
	s, err := Compose(testServices())
	require.NoError(t, err)

	user := s.Types["User"]
	wantKeys := map[string][]KeyFields{
		"accounts": {{{Name: "id"}}},
		"reviews":  {{{Name: "id"}}},
	}
	if diff := cmp.Diff(wantKeys, user.Keys); diff != "" {
		t.Fatalf("User keys mismatch (-want +got):\n%s", diff)
	}
	if keys := user.KeysFor("reviews"); len(keys) != 1 || keys[0].Name != "id" {
		t.Fatalf("KeysFor(reviews) = %v", keys)
	}
	// Unknown service falls back to the owner's key.
	if keys := user.KeysFor("shipping"); len(keys) != 1 || keys[0].Name != "id" {
		t.Fatalf("KeysFor(shipping) = %v", keys)
	}
}

func TestCompose_Federation_ExternalFieldsSkipped(t *testing.T) {
	s, err := Compose(testServices())
	require.NoError(t, err)

	// upc on the Product extension is @external: the reviews service must not
	// claim resolution of it.
	product := s.Types["Product"]
	if got := product.FieldByName("upc").Service; got != "" {
		t.Fatalf("Product.upc service = %q, want owner resolution", got)
	}
}

func TestCompose_Builtins_Injected(t *testing.T) {
	s, err := Compose(testServices())
	require.NoError(t, err)

	for _, name := range []string{"Int", "String", "ID", "_Any", "__Schema", "__Type"} {
		if s.Types[name] == nil {
			t.Fatalf("builtin type %q missing", name)
		}
	}
	for _, name := range []string{"include", "skip", "deprecated"} {
		if s.Directives[name] == nil {
			t.Fatalf("builtin directive %q missing", name)
		}
	}
	query := s.GetQueryType()
	require.NotNil(t, query.FieldByName("__type"))
	require.NotNil(t, query.FieldByName("__schema"))
}

func TestCompose_Idempotence(t *testing.T) {
	first, err := Compose(testServices())
	require.NoError(t, err)
	second, err := Compose(testServices())
	require.NoError(t, err)

	if diff := cmp.Diff(Render(first), Render(second)); diff != "" {
		t.Fatalf("composed schemas differ (-first +second):\n%s", diff)
	}
}

func TestCompose_RenderParse_RoundTrip(t *testing.T) {
	composed, err := Compose(testServices())
	require.NoError(t, err)

	sdl := Render(composed)
	parsed, err := Parse(sdl)
	require.NoError(t, err)

	if diff := cmp.Diff(sdl, Render(parsed)); diff != "" {
		t.Fatalf("round trip mismatch (-rendered +reparsed):\n%s", diff)
	}
	if parsed.Types["User"].Owner != "accounts" {
		t.Fatalf("owner lost in round trip")
	}
}

func TestCompose_Error_DuplicateField(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `type User @key(fields: "id") { id: ID! name: String! }`},
		{Name: "b", SDL: `extend type User @key(fields: "id") { id: ID! @external name: String! }`},
	})
	requireCompositionError(t, err, ErrDuplicateField)
}

func TestCompose_Error_MultipleOwners(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `type User @key(fields: "id") { id: ID! }`},
		{Name: "b", SDL: `type User @key(fields: "id") { uid: ID! }`},
	})
	requireCompositionError(t, err, ErrConflictingFieldTypes)
}

func TestCompose_Error_MissingOwner(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `
extend type User @key(fields: "id") { id: ID! @external karma: Int! }
extend type Query { nothing: Int }
`},
	})
	requireCompositionError(t, err, ErrMissingOwner)
}

func TestCompose_Error_ScalarConflict(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `enum Color { RED GREEN }` + "\n" + `extend type Query { a: Color }`},
		{Name: "b", SDL: `enum Color { RED BLUE }` + "\n" + `extend type Query { b: Color }`},
	})
	requireCompositionError(t, err, ErrScalarConflict)
}

func TestCompose_Error_UnknownType(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `extend type Query { widget: Widget }`},
	})
	requireCompositionError(t, err, ErrUnknownType)
}

func TestCompose_Error_InvalidKey(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `type User @key(fields: "email") { id: ID! }` + "\n" + `extend type Query { me: User }`},
	})
	requireCompositionError(t, err, ErrInvalidKey)
}

func TestCompose_Error_SchemaDefinitionRejected(t *testing.T) {
	_, err := Compose([]ServiceSDL{
		{Name: "a", SDL: `schema { query: Query }` + "\n" + `type Query { a: Int }`},
	})
	requireCompositionError(t, err, ErrSchemaNotAllowed)
}

func requireCompositionError(t *testing.T, err error, kind CompositionErrorKind) {
	t.Helper()
	require.Error(t, err)
	var cerr *CompositionError
	if !errors.As(err, &cerr) {
		t.Fatalf("error %T is not a CompositionError", err)
	}
	if cerr.Kind != kind {
		t.Fatalf("error kind = %s, want %s (%s)", cerr.Kind, kind, cerr)
	}
}
