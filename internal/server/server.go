// Package server exposes the gateway over HTTP and WebSocket. It parses
// requests, delegates to the gateway, and formats responses per the GraphQL
// over-HTTP conventions.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	eventbus "github.com/graphgate/graphgate/internal/eventbus"
	events "github.com/graphgate/graphgate/internal/events"
	gateway "github.com/graphgate/graphgate/internal/gateway"
	language "github.com/graphgate/graphgate/internal/language"
	planner "github.com/graphgate/graphgate/internal/planner"
	reqid "github.com/graphgate/graphgate/internal/reqid"
	transport "github.com/graphgate/graphgate/internal/transport"
)

// Handler is an http.Handler serving the federated GraphQL endpoint,
// including the websocket subscription transport.
type Handler struct {
	gw  *gateway.Gateway
	opt Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses.
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// ForwardHeaders lists client HTTP headers forwarded to subgraphs.
	ForwardHeaders []string

	// ReceiveHeaders lists subgraph response headers passed back to clients.
	ReceiveHeaders []string

	// GraphiQL enables the in-browser IDE when true.
	GraphiQL bool
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithForwardHeaders(headers ...string) Option {
	return func(o *Options) { o.ForwardHeaders = headers }
}
func WithReceiveHeaders(headers ...string) Option {
	return func(o *Options) { o.ReceiveHeaders = headers }
}
func WithGraphiQL(enable bool) Option { return func(o *Options) { o.GraphiQL = enable } }

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates the GraphQL HTTP handler for a gateway.
func New(gw *gateway.Gateway, opts ...Option) *Handler {
	op := Options{Timeout: 30 * time.Second, GraphiQL: true}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{gw: gw, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isWebSocketUpgrade(r) {
		h.serveWebSocket(w, r)
		return
	}

	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = reqid.NewContext(ctx)
	ctx = transport.WithOutgoingHeader(ctx, h.forwardedHeaders(r))
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	if r.Method == http.MethodGet && h.opt.GraphiQL && acceptsHTML(r.Header.Get("Accept")) && r.URL.Query().Get("query") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(graphiqlPage)
		return
	}

	req, batch, reqErr := parseRequest(r, h.opt.MaxBodyBytes)
	if reqErr != "" {
		status = http.StatusBadRequest
		if reqErr == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(reqErr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		out := make([]any, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, &batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	resp := h.executeOne(ctx, &req)
	status = statusFor(resp)
	h.passReceiveHeaders(w, resp)
	writeJSON(w, status, resp, h.opt.Pretty)
}

// statusFor maps failed requests to HTTP statuses: parse/validation errors
// (positioned, nothing executed) are client errors; plan errors indicate a
// composition inconsistency; everything else, including partial upstream
// failures, is a normal GraphQL response.
func statusFor(resp *planner.Response) int {
	if resp.Data != nil || len(resp.Errors) == 0 {
		return http.StatusOK
	}
	positioned := true
	for _, err := range resp.Errors {
		if err.Extensions["code"] == "PLAN_ERROR" {
			return http.StatusInternalServerError
		}
		if len(err.Locations) == 0 {
			positioned = false
		}
	}
	if positioned {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func (h *Handler) executeOne(ctx context.Context, req *planner.Request) *planner.Response {
	opType := operationType(req)
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
	})

	resp := h.gw.Execute(ctx, req)

	errs := make([]error, len(resp.Errors))
	for i := range resp.Errors {
		errs[i] = resp.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return resp
}

// forwardedHeaders picks the configured client headers to pass to subgraphs.
func (h *Handler) forwardedHeaders(r *http.Request) http.Header {
	if len(h.opt.ForwardHeaders) == 0 {
		return nil
	}
	out := http.Header{}
	for _, name := range h.opt.ForwardHeaders {
		if values := r.Header.Values(name); len(values) > 0 {
			out[http.CanonicalHeaderKey(name)] = values
		}
	}
	return out
}

func (h *Handler) passReceiveHeaders(w http.ResponseWriter, resp *planner.Response) {
	if len(h.opt.ReceiveHeaders) == 0 || len(resp.Headers) == 0 {
		return
	}
	for _, name := range h.opt.ReceiveHeaders {
		for key, value := range resp.Headers {
			if strings.EqualFold(key, name) {
				w.Header().Set(key, value)
			}
		}
	}
}

func operationType(req *planner.Request) string {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return ""
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return ""
	}
	return string(op.Operation)
}

// ------------------ Request parsing ------------------

func parseRequest(r *http.Request, maxBody int64) (planner.Request, []planner.Request, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return planner.Request{}, nil, "missing 'query'"
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return planner.Request{}, nil, "invalid 'variables' JSON"
			}
		}
		op := r.URL.Query().Get("operationName")
		return planner.Request{Query: q, Variables: vars, OperationName: op}, nil, ""
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return planner.Request{}, nil, "unsupported Content-Type"
	}

	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return planner.Request{}, nil, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return planner.Request{}, nil, errBodyTooLargeMessage
	}

	if len(body) > 0 && body[0] == '[' {
		var batch []planner.Request
		if err := json.Unmarshal(body, &batch); err != nil {
			return planner.Request{}, nil, "invalid JSON"
		}
		if len(batch) == 0 {
			return planner.Request{}, nil, "empty batch"
		}
		return planner.Request{}, batch, ""
	}

	var req planner.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return planner.Request{}, nil, "invalid JSON"
	}
	if req.Query == "" {
		return planner.Request{}, nil, "missing 'query'"
	}
	return req, nil, ""
}

// ------------------ Response formatting ------------------

func errorResponse(message string) *planner.Response {
	return &planner.Response{Errors: []*planner.ServerError{planner.NewServerError(message)}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	wildcard := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" {
			allowed = true
			wildcard = true
		}
		if o == origin {
			allowed = true
		}
	}
	if !allowed {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func acceptsHTML(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "text/html") || part == "*/*" {
			return true
		}
	}
	return false
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
