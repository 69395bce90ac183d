package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	planner "github.com/graphgate/graphgate/internal/planner"
	transport "github.com/graphgate/graphgate/internal/transport"
)

const connectionInitTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{transport.WSProtocol},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSession is one client websocket connection speaking graphql-transport-ws.
type wsSession struct {
	handler *Handler
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*wsSubscription
}

// wsSubscription tracks one client operation. Upstream subscriptions get a
// gateway-generated id so client-chosen ids never collide in tracing or on
// shared upstream connections.
type wsSubscription struct {
	upstreamID string
	cancel     context.CancelFunc
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	session := &wsSession{
		handler: h,
		conn:    conn,
		subs:    map[string]*wsSubscription{},
	}
	ctx := transport.WithOutgoingHeader(context.Background(), h.forwardedHeaders(r))
	session.run(ctx)
}

func (s *wsSession) write(msg *transport.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *wsSession) run(ctx context.Context) {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	initPayload, ok := s.awaitConnectionInit()
	if !ok {
		return
	}
	if err := s.write(&transport.Message{Type: transport.MessageConnectionAck}); err != nil {
		return
	}

	controller, err := s.handler.gw.NewSubscriptionController(initPayload)
	if err != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "not ready"), time.Now().Add(time.Second))
		return
	}

	for {
		var msg transport.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.cancelAll()
			return
		}
		switch msg.Type {
		case transport.MessageSubscribe:
			s.handleSubscribe(ctx, controller, &msg)
		case transport.MessageComplete:
			if upstreamID := s.cancelSubscription(msg.ID); upstreamID != "" {
				controller.Stop(upstreamID)
			}
		case transport.MessagePing:
			_ = s.write(&transport.Message{Type: transport.MessagePong})
		}
	}
}

// awaitConnectionInit reads frames until connection_init arrives.
func (s *wsSession) awaitConnectionInit() ([]byte, bool) {
	deadline := time.Now().Add(connectionInitTimeout)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, false
	}
	for {
		var msg transport.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return nil, false
		}
		switch msg.Type {
		case transport.MessageConnectionInit:
			if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
				return nil, false
			}
			return msg.Payload, true
		case transport.MessagePing:
			_ = s.write(&transport.Message{Type: transport.MessagePong})
		}
	}
}

func (s *wsSession) handleSubscribe(ctx context.Context, controller *transport.WSController, msg *transport.Message) {
	var req planner.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		errMsg, _ := transport.ErrorMessage(msg.ID, []*planner.ServerError{
			planner.NewServerError("invalid subscribe payload"),
		})
		_ = s.write(errMsg)
		return
	}

	subCtx, cancel := context.WithCancel(ctx)
	upstreamID := uuid.NewString()
	s.mu.Lock()
	if _, exists := s.subs[msg.ID]; exists {
		s.mu.Unlock()
		cancel()
		errMsg, _ := transport.ErrorMessage(msg.ID, []*planner.ServerError{
			planner.NewServerError("subscriber id already exists"),
		})
		_ = s.write(errMsg)
		return
	}
	s.subs[msg.ID] = &wsSubscription{upstreamID: upstreamID, cancel: cancel}
	s.mu.Unlock()

	stream, err := s.handler.gw.Subscribe(subCtx, controller, upstreamID, &req)
	if err != nil {
		s.cancelSubscription(msg.ID)
		errMsg, _ := transport.ErrorMessage(msg.ID, []*planner.ServerError{
			planner.NewServerError(err.Error()),
		})
		_ = s.write(errMsg)
		return
	}

	go func() {
		defer s.cancelSubscription(msg.ID)
		for resp := range stream {
			next, err := transport.NextMessage(msg.ID, resp)
			if err != nil {
				continue
			}
			if err := s.write(next); err != nil {
				return
			}
		}
		_ = s.write(&transport.Message{ID: msg.ID, Type: transport.MessageComplete})
	}()
}

// cancelSubscription cancels the client operation id and returns its
// upstream id, or "" if it was not active.
func (s *wsSession) cancelSubscription(id string) string {
	s.mu.Lock()
	sub := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()
	if sub == nil {
		return ""
	}
	sub.cancel()
	return sub.upstreamID
}

func (s *wsSession) cancelAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[string]*wsSubscription{}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}
