package planner

import (
	"fmt"
	"strings"

	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
)

// selectionRef is one entry of a rewritten sub-query: a client field, a
// __typename probe, a synthetic key-field block, or an inline fragment.
type selectionRef interface{ isSelectionRef() }

type fieldRef struct {
	field        *language.Field
	selectionSet selectionRefSet
}

// requiredRef injects the parent entity's key fields (and any @requires
// fields) under gateway-generated "__key<prefix>_" aliases so the executor
// can build representations without clobbering client-selected fields.
type requiredRef struct {
	prefix   int
	fields   schema.KeyFields
	requires schema.KeyFields
}

type introspectionTypename struct{}

type inlineFragmentRef struct {
	typeCondition string
	selectionSet  selectionRefSet
}

func (*fieldRef) isSelectionRef()             {}
func (*requiredRef) isSelectionRef()          {}
func (introspectionTypename) isSelectionRef() {}
func (*inlineFragmentRef) isSelectionRef()    {}

type selectionRefSet []selectionRef

func (s selectionRefSet) String() string {
	var b strings.Builder
	writeSelectionRefSet(&b, s)
	return b.String()
}

func writeSelectionRefSet(b *strings.Builder, set selectionRefSet) {
	b.WriteString("{ ")
	for i, sel := range set {
		if i > 0 {
			b.WriteString(" ")
		}
		switch sel := sel.(type) {
		case *fieldRef:
			if sel.field.Alias != "" && sel.field.Alias != sel.field.Name {
				b.WriteString(sel.field.Alias)
				b.WriteString(":")
			}
			b.WriteString(sel.field.Name)
			if len(sel.field.Arguments) > 0 {
				writeArguments(b, sel.field.Arguments)
			}
			if len(sel.field.Directives) > 0 {
				b.WriteString(" ")
				writeDirectives(b, sel.field.Directives)
			}
			if len(sel.selectionSet) > 0 {
				b.WriteString(" ")
				writeSelectionRefSet(b, sel.selectionSet)
			}
		case introspectionTypename:
			b.WriteString("__typename")
		case *requiredRef:
			fmt.Fprintf(b, "__key%d___typename:__typename", sel.prefix)
			writeKeyFields(b, sel.prefix, sel.fields)
			if len(sel.requires) > 0 {
				writeKeyFields(b, sel.prefix, sel.requires)
			}
		case *inlineFragmentRef:
			if sel.typeCondition != "" {
				b.WriteString("... on ")
				b.WriteString(sel.typeCondition)
				b.WriteString(" ")
			} else {
				b.WriteString("... ")
			}
			writeSelectionRefSet(b, sel.selectionSet)
		}
	}
	b.WriteString(" }")
}

func writeArguments(b *strings.Builder, args language.ArgumentList) {
	b.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.Name)
		b.WriteString(": ")
		b.WriteString(arg.Value.String())
	}
	b.WriteString(")")
}

func writeDirectives(b *strings.Builder, directives language.DirectiveList) {
	for i, d := range directives {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("@")
		b.WriteString(d.Name)
		if len(d.Arguments) > 0 {
			writeArguments(b, d.Arguments)
		}
	}
}

func writeKeyFields(b *strings.Builder, prefix int, fields schema.KeyFields) {
	var writePlain func(fields schema.KeyFields)
	writePlain = func(fields schema.KeyFields) {
		if len(fields) == 0 {
			return
		}
		b.WriteString("{")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(f.Name)
			writePlain(f.Children)
		}
		b.WriteString("}")
	}

	for _, f := range fields {
		fmt.Fprintf(b, " __key%d_%s:%s", prefix, f.Name, f.Name)
		writePlain(f.Children)
	}
}

// fetchQuery is a rewritten per-service query, rendered lazily into the text
// sent to the subgraph.
type fetchQuery struct {
	entityType          string
	operationType       language.Operation
	variableDefinitions []*language.VariableDefinition
	selectionSet        selectionRefSet
}

func (q *fetchQuery) String() string {
	var b strings.Builder
	if q.entityType != "" {
		b.WriteString("query($representations:[_Any!]!")
		for _, vd := range q.variableDefinitions {
			b.WriteString(", ")
			writeVariableDefinition(&b, vd)
		}
		b.WriteString(") { _entities(representations:$representations) { ... on ")
		b.WriteString(q.entityType)
		b.WriteString(" ")
		writeSelectionRefSet(&b, q.selectionSet)
		b.WriteString(" } }")
		return b.String()
	}

	b.WriteString(string(q.operationType))
	if len(q.variableDefinitions) > 0 {
		b.WriteString("(")
		for i, vd := range q.variableDefinitions {
			if i > 0 {
				b.WriteString(", ")
			}
			writeVariableDefinition(&b, vd)
		}
		b.WriteString(")")
	}
	b.WriteString(" ")
	writeSelectionRefSet(&b, q.selectionSet)
	return b.String()
}

func writeVariableDefinition(b *strings.Builder, vd *language.VariableDefinition) {
	b.WriteString("$")
	b.WriteString(vd.Variable)
	b.WriteString(": ")
	b.WriteString(vd.Type.String())
	if vd.DefaultValue != nil {
		b.WriteString(" = ")
		b.WriteString(vd.DefaultValue.String())
	}
}

// rootGroup collects root selections per service. Queries merge freely;
// mutations preserve declaration order by splitting on service changes.
type rootGroup interface {
	selectionSet(service string) *selectionRefSet
	entries() []rootGroupEntry
}

type rootGroupEntry struct {
	service      string
	selectionSet *selectionRefSet
}

type queryRootGroup struct {
	order []rootGroupEntry
	index map[string]int
}

func newQueryRootGroup() *queryRootGroup {
	return &queryRootGroup{index: map[string]int{}}
}

func (g *queryRootGroup) selectionSet(service string) *selectionRefSet {
	if i, ok := g.index[service]; ok {
		return g.order[i].selectionSet
	}
	g.index[service] = len(g.order)
	g.order = append(g.order, rootGroupEntry{service: service, selectionSet: &selectionRefSet{}})
	return g.order[len(g.order)-1].selectionSet
}

func (g *queryRootGroup) entries() []rootGroupEntry { return g.order }

type mutationRootGroup struct {
	order []rootGroupEntry
}

func (g *mutationRootGroup) selectionSet(service string) *selectionRefSet {
	if n := len(g.order); n > 0 && g.order[n-1].service == service {
		return g.order[n-1].selectionSet
	}
	g.order = append(g.order, rootGroupEntry{service: service, selectionSet: &selectionRefSet{}})
	return g.order[len(g.order)-1].selectionSet
}

func (g *mutationRootGroup) entries() []rootGroupEntry { return g.order }

// fetchEntity accumulates the fields that one entity re-fetch will resolve.
type fetchEntity struct {
	parentType *schema.Type
	prefix     int
	path       ResponsePath
	fields     []*language.Field
}

type fetchEntityKey struct {
	service string
	path    string
	typ     string
}

// fetchEntityGroup is an insertion-ordered map keyed by
// (service, path, parent type) so the planner emits at most one fetch per
// dependency set.
type fetchEntityGroup struct {
	order   []fetchEntityKey
	entries map[fetchEntityKey]*fetchEntity
}

func newFetchEntityGroup() *fetchEntityGroup {
	return &fetchEntityGroup{entries: map[fetchEntityKey]*fetchEntity{}}
}

func (g *fetchEntityGroup) isEmpty() bool { return len(g.order) == 0 }

func (g *fetchEntityGroup) get(key fetchEntityKey) *fetchEntity { return g.entries[key] }

func (g *fetchEntityGroup) insert(key fetchEntityKey, entity *fetchEntity) {
	if _, ok := g.entries[key]; !ok {
		g.order = append(g.order, key)
	}
	g.entries[key] = entity
}

func (g *fetchEntityGroup) each(fn func(key fetchEntityKey, entity *fetchEntity)) {
	for _, key := range g.order {
		fn(key, g.entries[key])
	}
}
