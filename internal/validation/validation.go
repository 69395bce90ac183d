// Package validation checks parsed client operations against the composed
// schema. The rule set follows the GraphQL specification; each error carries
// a message and the source position it was raised at.
package validation

import (
	"fmt"

	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
)

// Error is a single validation failure.
type Error struct {
	Message   string
	Locations []Location
}

type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (e *Error) Error() string { return e.Message }

type context struct {
	schema    *schema.Schema
	doc       *language.QueryDocument
	variables map[string]any
	errors    []*Error

	usedFragments map[string]bool
}

func (c *context) addError(pos *language.Position, format string, args ...any) {
	err := &Error{Message: fmt.Sprintf(format, args...)}
	if pos != nil {
		err.Locations = append(err.Locations, Location{Line: pos.Line, Column: pos.Column})
	}
	c.errors = append(c.errors, err)
}

// CheckRules validates the document against the composed schema. An empty
// result means the document is executable.
func CheckRules(s *schema.Schema, doc *language.QueryDocument, variables map[string]any) []*Error {
	ctx := &context{
		schema:        s,
		doc:           doc,
		variables:     variables,
		usedFragments: map[string]bool{},
	}

	ctx.checkOperations()
	ctx.checkFragmentDefinitions()

	for _, op := range doc.Operations {
		ctx.checkOperation(op)
	}

	for _, frag := range doc.Fragments {
		if !ctx.usedFragments[frag.Name] {
			ctx.addError(frag.Position, "Fragment %q is never used", frag.Name)
		}
	}
	return ctx.errors
}

// checkOperations enforces operation naming: unique names, and anonymous
// operations only when the document contains exactly one operation.
func (c *context) checkOperations() {
	seen := map[string]bool{}
	for _, op := range c.doc.Operations {
		if op.Name == "" {
			if len(c.doc.Operations) > 1 {
				c.addError(op.Position, "This anonymous operation must be the only defined operation")
			}
			continue
		}
		if seen[op.Name] {
			c.addError(op.Position, "There can only be one operation named %q", op.Name)
		}
		seen[op.Name] = true
	}
}

func (c *context) checkOperation(op *language.OperationDefinition) {
	rootType := c.schema.RootType(op.Operation)
	if rootType == nil {
		c.addError(op.Position, "Schema does not support %s operations", op.Operation)
		return
	}

	c.checkVariableDefinitions(op)

	if op.Operation == language.Subscription {
		if n := rootFieldCount(c, op.SelectionSet); n != 1 {
			name := op.Name
			if name == "" {
				name = "anonymous"
			}
			c.addError(op.Position, "Subscription %q must select only one top level field", name)
		}
	}

	c.checkDirectives(op.Directives, directiveLocationForOperation(op.Operation))

	used := map[string]bool{}
	c.checkSelectionSet(op.SelectionSet, rootType, op, used, nil)

	for _, vd := range op.VariableDefinitions {
		if !used[vd.Variable] {
			c.addError(vd.Position, "Variable %q is never used in operation %q", "$"+vd.Variable, op.Name)
		}
	}
}

func (c *context) checkVariableDefinitions(op *language.OperationDefinition) {
	seen := map[string]bool{}
	for _, vd := range op.VariableDefinitions {
		if seen[vd.Variable] {
			c.addError(vd.Position, "There can only be one variable named %q", "$"+vd.Variable)
		}
		seen[vd.Variable] = true

		t := c.schema.Types[language.NamedType(vd.Type)]
		if t == nil {
			c.addError(vd.Position, "Unknown type %q", language.NamedType(vd.Type))
			continue
		}
		if !t.IsInput() {
			c.addError(vd.Position, "Variable %q cannot be non-input type %q", "$"+vd.Variable, vd.Type.String())
			continue
		}
		if vd.DefaultValue != nil {
			expected := schema.TypeRefFromAST(vd.Type)
			if expected.IsNonNull() {
				c.addError(vd.Position,
					"Variable %q of type %q is required and will not use the default value",
					"$"+vd.Variable, vd.Type.String())
			} else {
				c.checkValue(vd.DefaultValue, expected, nil, nil)
			}
		}
	}
}

// checkFragmentDefinitions validates fragment type conditions and detects
// spread cycles.
func (c *context) checkFragmentDefinitions() {
	for _, frag := range c.doc.Fragments {
		t := c.schema.Types[frag.TypeCondition]
		if t == nil {
			c.addError(frag.Position, "Unknown type %q", frag.TypeCondition)
			continue
		}
		if !t.IsComposite() {
			c.addError(frag.Position, "Fragment %q cannot condition on non composite type %q",
				frag.Name, frag.TypeCondition)
		}
	}

	// NoFragmentCycles: depth-first over the spread graph.
	state := map[string]int{} // 0 unvisited, 1 in progress, 2 done
	var visit func(frag *language.FragmentDefinition)
	visit = func(frag *language.FragmentDefinition) {
		state[frag.Name] = 1
		for _, spread := range collectSpreads(frag.SelectionSet) {
			next := c.doc.Fragments.ForName(spread.Name)
			if next == nil {
				continue
			}
			switch state[next.Name] {
			case 1:
				c.addError(spread.Position, "Cannot spread fragment %q within itself", spread.Name)
			case 0:
				visit(next)
			}
		}
		state[frag.Name] = 2
	}
	for _, frag := range c.doc.Fragments {
		if state[frag.Name] == 0 {
			visit(frag)
		}
	}
}

func collectSpreads(selectionSet language.SelectionSet) []*language.FragmentSpread {
	var out []*language.FragmentSpread
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			out = append(out, collectSpreads(sel.SelectionSet)...)
		case *language.InlineFragment:
			out = append(out, collectSpreads(sel.SelectionSet)...)
		case *language.FragmentSpread:
			out = append(out, sel)
		}
	}
	return out
}

func rootFieldCount(c *context, selectionSet language.SelectionSet) int {
	n := 0
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			n++
		case *language.InlineFragment:
			n += rootFieldCount(c, sel.SelectionSet)
		case *language.FragmentSpread:
			if frag := c.doc.Fragments.ForName(sel.Name); frag != nil {
				n += rootFieldCount(c, frag.SelectionSet)
			}
		}
	}
	return n
}

func directiveLocationForOperation(op language.Operation) string {
	switch op {
	case language.Mutation:
		return "MUTATION"
	case language.Subscription:
		return "SUBSCRIPTION"
	default:
		return "QUERY"
	}
}
