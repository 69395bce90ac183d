package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	discovery "github.com/graphgate/graphgate/internal/discovery"
	gateway "github.com/graphgate/graphgate/internal/gateway"
	planner "github.com/graphgate/graphgate/internal/planner"
	transport "github.com/graphgate/graphgate/internal/transport"
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

// fakeAccounts serves the accounts subgraph over HTTP and websocket.
func fakeAccounts(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{Subprotocols: []string{transport.WSProtocol}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				var msg transport.Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				switch msg.Type {
				case transport.MessageConnectionInit:
					_ = conn.WriteJSON(&transport.Message{Type: transport.MessageConnectionAck})
				case transport.MessageSubscribe:
					for _, id := range []string{"1", "2"} {
						payload, _ := json.Marshal(map[string]any{
							"data": map[string]any{"users": map[string]any{"id": id, "username": "Me"}},
						})
						_ = conn.WriteJSON(&transport.Message{ID: msg.ID, Type: transport.MessageNext, Payload: payload})
					}
					_ = conn.WriteJSON(&transport.Message{ID: msg.ID, Type: transport.MessageComplete})
				case transport.MessageComplete:
					return
				}
			}
		}

		var req planner.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(req.Query, "_service") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"_service": map[string]any{"sdl": accountsSDL}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"me": map[string]any{"id": "1234", "username": "Me"}},
		})
	}))
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, func()) {
	t.Helper()
	subgraph := fakeAccounts(t)
	addr := strings.TrimPrefix(subgraph.URL, "http://")

	gw := gateway.New(discovery.NewStatic(discovery.ServiceList{
		{Name: "accounts", Addr: addr},
	}))
	require.NoError(t, gw.Update(context.Background()))
	return New(gw, opts...), subgraph.Close
}

func postJSON(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Post_Query(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	rec := postJSON(t, handler, `{"query": "{ me { id username } }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	want := map[string]any{"me": map[string]any{"id": "1234", "username": "Me"}}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestHandler_Post_ValidationError(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	rec := postJSON(t, handler, `{"query": "{ me { karma } }"}`)
	// Validation failures never execute and are client errors.
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Errors []map[string]any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Errors)
}

func TestHandler_Post_MissingQuery(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	rec := postJSON(t, handler, `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Post_Batch(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	rec := postJSON(t, handler, `[{"query": "{ me { id } }"}, {"query": "{ me { username } }"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch []any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Len(t, batch, 2)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodDelete, "/graphql", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Get_GraphiQL(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestHandler_WebSocket_Subscription(t *testing.T) {
	handler, cleanup := newTestHandler(t)
	defer cleanup()

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	dialer := &websocket.Dialer{Subprotocols: []string{transport.WSProtocol}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(&transport.Message{Type: transport.MessageConnectionInit}))

	var ack transport.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, transport.MessageConnectionAck, ack.Type)

	payload, _ := json.Marshal(planner.NewRequest("subscription { users { id username } }"))
	require.NoError(t, conn.WriteJSON(&transport.Message{ID: "op-1", Type: transport.MessageSubscribe, Payload: payload}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ids []string
	for {
		var msg transport.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == transport.MessageComplete {
			break
		}
		require.Equal(t, transport.MessageNext, msg.Type)
		require.Equal(t, "op-1", msg.ID)
		var resp struct {
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg.Payload, &resp))
		users := resp.Data["users"].(map[string]any)
		ids = append(ids, users["id"].(string))
	}
	if diff := cmp.Diff([]string{"1", "2"}, ids); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
}
