package transport

// ServiceRoute is the routing information for one subgraph.
type ServiceRoute struct {
	// Addr is the service address, e.g. "1.2.3.4:8000" or "example.com:8080".
	Addr string

	// TLS selects https/wss schemes.
	TLS bool

	// QueryPath is the GraphQL HTTP path, default "/".
	QueryPath string

	// SubscribePath is the GraphQL WebSocket path, default "/".
	SubscribePath string

	// IntrospectionPath is where { _service { sdl } } is answered,
	// default is QueryPath.
	IntrospectionPath string
}

func (r ServiceRoute) queryURL() string {
	return r.httpURL(r.QueryPath)
}

func (r ServiceRoute) introspectionURL() string {
	if r.IntrospectionPath != "" {
		return r.httpURL(r.IntrospectionPath)
	}
	return r.httpURL(r.QueryPath)
}

func (r ServiceRoute) httpURL(path string) string {
	scheme := "http"
	if r.TLS {
		scheme = "https"
	}
	return scheme + "://" + r.Addr + path
}

func (r ServiceRoute) subscribeURL() string {
	scheme := "ws"
	if r.TLS {
		scheme = "wss"
	}
	return scheme + "://" + r.Addr + r.SubscribePath
}

// RouteTable maps service names to routes. It is immutable once handed to a
// fetcher; updates replace the whole table.
type RouteTable map[string]ServiceRoute

// Route returns the route for service.
func (t RouteTable) Route(service string) (ServiceRoute, bool) {
	r, ok := t[service]
	return r, ok
}

// Services returns the table's service names.
func (t RouteTable) Services() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	return out
}
