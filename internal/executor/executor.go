// Package executor runs query plans against live subgraphs: fan-out, entity
// re-fetch through _entities, and deterministic merging of sub-responses into
// one response tree.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	introspection "github.com/graphgate/graphgate/internal/introspection"
	planner "github.com/graphgate/graphgate/internal/planner"
	schema "github.com/graphgate/graphgate/internal/schema"
)

// Fetcher sends one GraphQL request to a named subgraph.
type Fetcher interface {
	Fetch(ctx context.Context, service string, req *planner.Request) (*planner.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, service string, req *planner.Request) (*planner.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, service string, req *planner.Request) (*planner.Response, error) {
	return f(ctx, service, req)
}

// Executor executes plans produced by the planner against the schema it was
// created with. It is safe for concurrent use.
type Executor struct {
	schema *schema.Schema
}

func NewExecutor(s *schema.Schema) *Executor {
	return &Executor{schema: s}
}

// Execute runs a query or mutation plan and returns the merged response.
func (e *Executor) Execute(ctx context.Context, fetcher Fetcher, root planner.RootNode) *planner.Response {
	node, ok := root.(planner.Node)
	if !ok {
		return &planner.Response{
			Errors: []*planner.ServerError{planner.NewServerError("plan is not executable as a query")},
		}
	}
	st := &execState{schema: e.schema, fetcher: fetcher, resp: &planner.Response{}}
	st.executeNode(ctx, node)
	stripSyntheticKeys(st.resp.Data)
	return st.resp
}

// execState is the per-request execution state. The response is shared by
// parallel branches and guarded by mu.
type execState struct {
	schema  *schema.Schema
	fetcher Fetcher

	mu   sync.Mutex
	resp *planner.Response
}

func (st *execState) executeNode(ctx context.Context, node planner.Node) {
	switch node := node.(type) {
	case *planner.SequenceNode:
		for _, child := range node.Nodes {
			st.executeNode(ctx, child)
		}
	case *planner.ParallelNode:
		var wg sync.WaitGroup
		for _, child := range node.Nodes {
			wg.Add(1)
			go func(child planner.Node) {
				defer wg.Done()
				st.executeNode(ctx, child)
			}(child)
		}
		wg.Wait()
	case *planner.IntrospectionNode:
		value := introspection.Resolve(st.schema, node.SelectionSet)
		st.mu.Lock()
		mergeData(&st.resp.Data, value)
		st.mu.Unlock()
	case *planner.FetchNode:
		st.executeFetchNode(ctx, node)
	case *planner.FlattenNode:
		st.executeFlattenNode(ctx, node)
	}
}

func (st *execState) executeFetchNode(ctx context.Context, node *planner.FetchNode) {
	resp, err := st.fetcher.Fetch(ctx, node.Service, node.ToRequest())

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.resp.Errors = append(st.resp.Errors, upstreamError(node.Service, err, nil))
		return
	}
	if len(resp.Errors) > 0 {
		mergeErrors(st.resp, resp.Errors, nil)
	}
	mergeData(&st.resp.Data, resp.Data)
	mergeHeaders(st.resp, resp)
}

func (st *execState) executeFlattenNode(ctx context.Context, node *planner.FlattenNode) {
	representations, matched := st.takeRepresentations(node)
	if len(representations) == 0 {
		return
	}

	resp, err := st.fetcher.Fetch(ctx, node.Service, node.ToRequest(representations))

	st.mu.Lock()
	defer st.mu.Unlock()
	if err != nil {
		st.resp.Errors = append(st.resp.Errors, upstreamError(node.Service, err, node.Path))
		return
	}
	if len(resp.Errors) > 0 {
		mergeErrors(st.resp, resp.Errors, node.Path)
	}

	data, ok := resp.Data.(map[string]any)
	if !ok {
		return
	}
	entities, ok := data["_entities"].([]any)
	if !ok {
		return
	}
	pos := 0
	next := func(ok bool) any {
		if !ok || pos >= len(entities) {
			return nil
		}
		value := entities[pos]
		pos++
		return value
	}
	spliceEntities(&st.resp.Data, node.Path, matched, 0, next)
	mergeHeaders(st.resp, resp)
}

// takeRepresentations collects {__typename, key fields} objects at the
// flatten path, stripping the gateway's "__key<prefix>_" aliases from the
// response as it goes. The matched slice records, per visited position,
// whether a representation was sent, so splicing can skip filtered entities.
func (st *execState) takeRepresentations(node *planner.FlattenNode) ([]any, []bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var representations []any
	var matched []bool

	var walk func(value any, path planner.ResponsePath)
	walk = func(value any, path planner.ResponsePath) {
		obj, ok := value.(map[string]any)
		if !ok || len(path) == 0 {
			return
		}
		segment := path[0]

		if len(path) == 1 {
			collect := func(entity any) {
				entityObj, ok := entity.(map[string]any)
				if !ok {
					matched = append(matched, false)
					return
				}
				rep := extractKeys(entityObj, node.Prefix)
				if segment.PossibleType != "" {
					if typename, _ := rep["__typename"].(string); typename != segment.PossibleType {
						matched = append(matched, false)
						return
					}
				}
				if len(rep) == 0 {
					matched = append(matched, false)
					return
				}
				matched = append(matched, true)
				representations = append(representations, rep)
			}
			if segment.IsList {
				if list, ok := obj[segment.Name].([]any); ok {
					for _, element := range list {
						collect(element)
					}
				}
			} else {
				if entity, ok := obj[segment.Name]; ok && entity != nil {
					collect(entity)
				}
			}
			return
		}

		if segment.IsList {
			if list, ok := obj[segment.Name].([]any); ok {
				for _, element := range list {
					walk(element, path[1:])
				}
			}
		} else {
			walk(obj[segment.Name], path[1:])
		}
	}
	walk(st.resp.Data, node.Path)
	return representations, matched
}

// spliceEntities walks the response tree in the same order as
// takeRepresentations and merges each returned entity into its position.
func spliceEntities(target *any, path planner.ResponsePath, matched []bool, pos int, next func(ok bool) any) int {
	obj, ok := (*target).(map[string]any)
	if !ok || len(path) == 0 {
		return pos
	}
	segment := path[0]

	if len(path) == 1 {
		splice := func(element *any) {
			if pos >= len(matched) {
				return
			}
			ok := matched[pos]
			pos++
			value := next(ok)
			if ok {
				mergeData(element, value)
			}
		}
		if segment.IsList {
			if list, ok := obj[segment.Name].([]any); ok {
				for i := range list {
					splice(&list[i])
				}
			}
		} else {
			if entity, ok := obj[segment.Name]; ok && entity != nil {
				merged := entity
				splice(&merged)
				obj[segment.Name] = merged
			}
		}
		return pos
	}

	if segment.IsList {
		if list, ok := obj[segment.Name].([]any); ok {
			for i := range list {
				pos = spliceEntities(&list[i], path[1:], matched, pos, next)
			}
		}
	} else {
		if value, ok := obj[segment.Name]; ok {
			merged := value
			pos = spliceEntities(&merged, path[1:], matched, pos, next)
			obj[segment.Name] = merged
		}
	}
	return pos
}

// extractKeys removes the "__key<prefix>_" aliased fields from an entity and
// returns them under their real names.
func extractKeys(obj map[string]any, prefix int) map[string]any {
	keyPrefix := fmt.Sprintf("__key%d_", prefix)
	rep := map[string]any{}
	for key, value := range obj {
		if strings.HasPrefix(key, keyPrefix) {
			rep[key[len(keyPrefix):]] = value
			delete(obj, key)
		}
	}
	return rep
}

// stripSyntheticKeys removes any gateway-generated key aliases that were
// never consumed, e.g. when a parent entity resolved to null.
func stripSyntheticKeys(value any) {
	switch value := value.(type) {
	case map[string]any:
		for key, child := range value {
			if strings.HasPrefix(key, "__key") {
				delete(value, key)
				continue
			}
			stripSyntheticKeys(child)
		}
	case []any:
		for _, child := range value {
			stripSyntheticKeys(child)
		}
	}
}

// mergeData merges a sub-response fragment into the accumulated tree: nulls
// are replaced, objects merge per key, equal-length lists merge element-wise.
func mergeData(target *any, value any) {
	if *target == nil {
		*target = value
		return
	}
	switch t := (*target).(type) {
	case map[string]any:
		fragment, ok := value.(map[string]any)
		if !ok {
			return
		}
		for key, val := range fragment {
			if existing, ok := t[key]; ok && existing != nil {
				merged := existing
				mergeData(&merged, val)
				t[key] = merged
			} else {
				t[key] = val
			}
		}
	case []any:
		fragment, ok := value.([]any)
		if !ok || len(fragment) != len(t) {
			return
		}
		for i := range fragment {
			merged := t[i]
			mergeData(&merged, fragment[i])
			t[i] = merged
		}
	}
}

// mergeErrors appends subgraph errors, prefixing their paths with the path of
// the fetch that produced them.
func mergeErrors(resp *planner.Response, errs []*planner.ServerError, path planner.ResponsePath) {
	var prefix []any
	for _, segment := range path {
		prefix = append(prefix, segment.Name)
	}
	for _, err := range errs {
		merged := &planner.ServerError{
			Message:    err.Message,
			Extensions: err.Extensions,
		}
		if len(prefix) > 0 || len(err.Path) > 0 {
			merged.Path = append(append([]any{}, prefix...), err.Path...)
		}
		resp.Errors = append(resp.Errors, merged)
	}
}

func mergeHeaders(resp *planner.Response, from *planner.Response) {
	if len(from.Headers) == 0 {
		return
	}
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	for key, value := range from.Headers {
		resp.Headers[key] = value
	}
}

func upstreamError(service string, err error, path planner.ResponsePath) *planner.ServerError {
	kind := "UpstreamNetworkError"
	if errors.Is(err, context.DeadlineExceeded) {
		kind = "UpstreamTimeout"
	}
	serverErr := planner.NewServerError(fmt.Sprintf("service %q: %s", service, err))
	serverErr.Extensions = map[string]any{"code": kind}
	for _, segment := range path {
		serverErr.Path = append(serverErr.Path, segment.Name)
	}
	return serverErr
}
