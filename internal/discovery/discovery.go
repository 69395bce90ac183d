// Package discovery abstracts where the gateway learns its subgraphs from.
// The core only consumes a ServiceList; sources may be static flags, a file,
// or an external system.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	transport "github.com/graphgate/graphgate/internal/transport"
)

// Service is one subgraph record as delivered by a discovery source.
type Service struct {
	Name              string `json:"name"`
	Addr              string `json:"addr"`
	TLS               bool   `json:"tls,omitempty"`
	QueryPath         string `json:"query_path,omitempty"`
	SubscribePath     string `json:"subscribe_path,omitempty"`
	IntrospectionPath string `json:"introspection_path,omitempty"`
}

// ServiceList is an ordered set of subgraph records.
type ServiceList []Service

// RouteTable converts the list into the transport routing table.
func (l ServiceList) RouteTable() transport.RouteTable {
	table := transport.RouteTable{}
	for _, svc := range l {
		table[svc.Name] = transport.ServiceRoute{
			Addr:              svc.Addr,
			TLS:               svc.TLS,
			QueryPath:         svc.QueryPath,
			SubscribePath:     svc.SubscribePath,
			IntrospectionPath: svc.IntrospectionPath,
		}
	}
	return table
}

// Names returns the service names in list order.
func (l ServiceList) Names() []string {
	out := make([]string, len(l))
	for i, svc := range l {
		out[i] = svc.Name
	}
	return out
}

// Source delivers the current service list.
type Source interface {
	Services(ctx context.Context) (ServiceList, error)
}

// Static is a fixed in-memory source.
type Static struct {
	list ServiceList
}

func NewStatic(list ServiceList) *Static {
	cp := make(ServiceList, len(list))
	copy(cp, list)
	return &Static{list: cp}
}

func (s *Static) Services(ctx context.Context) (ServiceList, error) {
	_ = ctx
	out := make(ServiceList, len(s.list))
	copy(out, s.list)
	return out, nil
}

// File reads the service list from a JSON file on every call, so edits are
// picked up by the gateway's next update tick.
type File struct {
	path string
}

func NewFile(path string) *File { return &File{path: path} }

func (f *File) Services(ctx context.Context) (ServiceList, error) {
	_ = ctx
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read service list: %w", err)
	}
	var list ServiceList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse service list %q: %w", f.path, err)
	}
	for _, svc := range list {
		if svc.Name == "" || svc.Addr == "" {
			return nil, fmt.Errorf("service list %q: every record needs name and addr", f.path)
		}
	}
	return list, nil
}
