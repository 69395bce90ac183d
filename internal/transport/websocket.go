package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	eventbus "github.com/graphgate/graphgate/internal/eventbus"
	events "github.com/graphgate/graphgate/internal/events"
	planner "github.com/graphgate/graphgate/internal/planner"
)

// WSController bridges subscriptions to subgraphs over graphql-transport-ws.
// One controller serves one client connection: it keeps at most one upstream
// websocket per service and multiplexes subscription ids over it.
type WSController struct {
	table       RouteTable
	opts        *Options
	initPayload json.RawMessage

	mu    sync.Mutex
	conns map[string]*wsConn
	subs  map[string]*subscription
}

func NewWSController(table RouteTable, initPayload json.RawMessage, opts ...Option) *WSController {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &WSController{
		table:       table,
		opts:        o,
		initPayload: initPayload,
		conns:       map[string]*wsConn{},
		subs:        map[string]*subscription{},
	}
}

type wsConn struct {
	service string
	conn    *websocket.Conn
	writeMu sync.Mutex
	refs    int
}

func (c *wsConn) write(msg *Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

type subscription struct {
	id        string
	queue     *respQueue
	remaining map[string]bool
}

// Subscribe opens subscription id on service. Event payloads are forwarded to
// events in source order; events is closed when every service registered
// under id completes.
func (c *WSController) Subscribe(ctx context.Context, id, service string, req *planner.Request, eventCh chan<- *planner.Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx, service)
	if err != nil {
		return err
	}

	sub := c.subs[id]
	if sub == nil {
		sub = &subscription{id: id, queue: newRespQueue(), remaining: map[string]bool{}}
		c.subs[id] = sub
		go forward(sub.queue, eventCh)
	}
	sub.remaining[service] = true
	conn.refs++

	msg, err := SubscribeMessage(id, req)
	if err != nil {
		return err
	}
	if err := conn.write(msg); err != nil {
		return fmt.Errorf("subscribe %q: %w", service, err)
	}
	eventbus.Publish(ctx, events.SubscriptionStart{Service: service, ID: id})
	return nil
}

// Stop cancels subscription id: complete frames are sent upstream and the
// event channel is closed.
func (c *WSController) Stop(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := c.subs[id]
	if sub == nil {
		return
	}
	for service := range sub.remaining {
		if conn := c.conns[service]; conn != nil {
			_ = conn.write(&Message{ID: id, Type: MessageComplete})
			c.releaseConn(conn)
		}
		eventbus.Publish(context.Background(), events.SubscriptionFinish{Service: service, ID: id})
	}
	sub.queue.abort()
	delete(c.subs, id)
}

// ensureConn returns the upstream connection for service, dialing and
// performing the connection_init handshake if needed. Called with c.mu held.
func (c *WSController) ensureConn(ctx context.Context, service string) (*wsConn, error) {
	if conn := c.conns[service]; conn != nil {
		return conn, nil
	}

	route, ok := c.table.Route(service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotFound, service)
	}

	dialer := &websocket.Dialer{
		Subprotocols:     []string{WSProtocol},
		HandshakeTimeout: c.opts.ConnectTimeout,
	}
	header := http.Header{}
	for key, values := range c.opts.Header {
		header[key] = values
	}
	for key, values := range OutgoingHeader(ctx) {
		header[key] = values
	}
	raw, resp, err := dialer.DialContext(ctx, route.subscribeURL(), header)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", service, err)
	}
	if resp != nil && resp.Header.Get("Sec-Websocket-Protocol") != "" &&
		resp.Header.Get("Sec-Websocket-Protocol") != WSProtocol {
		raw.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, resp.Header.Get("Sec-Websocket-Protocol"))
	}

	if err := c.handshake(raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("connect %q: %w", service, err)
	}

	conn := &wsConn{service: service, conn: raw}
	c.conns[service] = conn
	go c.readLoop(conn)
	return conn, nil
}

// handshake sends connection_init and waits for connection_ack.
func (c *WSController) handshake(conn *websocket.Conn) error {
	init := &Message{Type: MessageConnectionInit, Payload: c.initPayload}
	if err := conn.WriteJSON(init); err != nil {
		return err
	}
	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case MessageConnectionAck:
			return conn.SetReadDeadline(time.Time{})
		case MessagePing:
			if err := conn.WriteJSON(&Message{Type: MessagePong}); err != nil {
				return err
			}
		case MessageError:
			return fmt.Errorf("connection rejected: %s", msg.Payload)
		}
	}
}

func (c *WSController) readLoop(conn *wsConn) {
	for {
		var msg Message
		if err := conn.conn.ReadJSON(&msg); err != nil {
			c.failConn(conn)
			return
		}
		switch msg.Type {
		case MessageNext:
			var resp planner.Response
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			if sub := c.subs[msg.ID]; sub != nil && sub.remaining[conn.service] {
				sub.queue.push(&resp)
			}
			c.mu.Unlock()
		case MessageError:
			var errs []*planner.ServerError
			_ = json.Unmarshal(msg.Payload, &errs)
			c.mu.Lock()
			if sub := c.subs[msg.ID]; sub != nil && sub.remaining[conn.service] {
				sub.queue.push(&planner.Response{Errors: errs})
			}
			c.mu.Unlock()
			c.finishService(conn, msg.ID)
		case MessageComplete:
			c.finishService(conn, msg.ID)
		case MessagePing:
			_ = conn.write(&Message{Type: MessagePong})
		}
	}
}

// finishService marks service done for subscription id; the last service to
// finish closes the event stream.
func (c *WSController) finishService(conn *wsConn, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := c.subs[id]
	if sub == nil || !sub.remaining[conn.service] {
		return
	}
	delete(sub.remaining, conn.service)
	c.releaseConn(conn)
	eventbus.Publish(context.Background(), events.SubscriptionFinish{Service: conn.service, ID: id})
	if len(sub.remaining) == 0 {
		sub.queue.close()
		delete(c.subs, id)
	}
}

// failConn fails every subscription that still depends on the connection.
// Called without c.mu held.
func (c *WSController) failConn(conn *wsConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.subs {
		if !sub.remaining[conn.service] {
			continue
		}
		sub.queue.push(&planner.Response{
			Errors: []*planner.ServerError{planner.NewServerError(ErrConnectionClosed.Error())},
		})
		delete(sub.remaining, conn.service)
		if len(sub.remaining) == 0 {
			sub.queue.abort()
			delete(c.subs, id)
		}
	}
	conn.conn.Close()
	delete(c.conns, conn.service)
}

// releaseConn drops one reference; the connection closes when unused.
// Called with c.mu held.
func (c *WSController) releaseConn(conn *wsConn) {
	conn.refs--
	if conn.refs <= 0 {
		conn.conn.Close()
		delete(c.conns, conn.service)
	}
}

// respQueue is an unbounded FIFO decoupling upstream readers from the
// (possibly slow) downstream consumer, so event order is preserved without
// blocking the websocket read loop.
type respQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*planner.Response
	closed bool
	done   chan struct{}
}

func newRespQueue() *respQueue {
	q := &respQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *respQueue) push(resp *planner.Response) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, resp)
	q.cond.Signal()
}

// close ends the queue gracefully: queued items are still delivered.
func (q *respQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// abort ends the queue and unblocks a forwarder stuck on a consumer that is
// no longer receiving.
func (q *respQueue) abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// pop blocks until an item is available or the queue is closed and drained.
func (q *respQueue) pop() (*planner.Response, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// forward drains the queue into the executor's event channel and closes it
// when the queue completes.
func forward(q *respQueue, out chan<- *planner.Response) {
	defer close(out)
	for {
		resp, ok := q.pop()
		if !ok {
			return
		}
		select {
		case out <- resp:
		case <-q.done:
			return
		}
	}
}
