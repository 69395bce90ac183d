package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	transport "github.com/graphgate/graphgate/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestServiceList_RouteTable(t *testing.T) {
	list := ServiceList{
		{Name: "accounts", Addr: "accounts:8001", QueryPath: "/graphql", SubscribePath: "/ws"},
		{Name: "products", Addr: "products:8002", TLS: true},
	}
	want := transport.RouteTable{
		"accounts": {Addr: "accounts:8001", QueryPath: "/graphql", SubscribePath: "/ws"},
		"products": {Addr: "products:8002", TLS: true},
	}
	if diff := cmp.Diff(want, list.RouteTable()); diff != "" {
		t.Fatalf("route table mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"accounts", "products"}, list.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestFile_ReadsServiceList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	content := `[
  {"name": "accounts", "addr": "accounts:8001", "query_path": "/graphql"},
  {"name": "reviews", "addr": "reviews:8003", "subscribe_path": "/ws"}
]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	list, err := NewFile(path).Services(context.Background())
	require.NoError(t, err)
	want := ServiceList{
		{Name: "accounts", Addr: "accounts:8001", QueryPath: "/graphql"},
		{Name: "reviews", Addr: "reviews:8003", SubscribePath: "/ws"},
	}
	if diff := cmp.Diff(want, list); diff != "" {
		t.Fatalf("service list mismatch (-want +got):\n%s", diff)
	}
}

func TestFile_RejectsIncompleteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name": "accounts"}]`), 0644))
	_, err := NewFile(path).Services(context.Background())
	require.Error(t, err)
}
