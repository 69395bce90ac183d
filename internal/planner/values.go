package planner

import (
	"strconv"

	language "github.com/graphgate/graphgate/internal/language"
)

// referencedVariables projects the variables a rewritten selection actually
// uses: the values to send with the fetch and the definitions to render into
// its query text.
func (c *planContext) referencedVariables(
	set selectionRefSet,
	variableDefinitions []*language.VariableDefinition,
) (map[string]any, []*language.VariableDefinition) {
	variables := map[string]any{}
	var defs []*language.VariableDefinition
	seen := map[string]bool{}

	add := func(name string) {
		if seen[name] {
			return
		}
		for _, vd := range variableDefinitions {
			if vd.Variable == name {
				seen[name] = true
				defs = append(defs, vd)
				if value, ok := c.variables[name]; ok {
					variables[name] = value
				}
				return
			}
		}
	}

	var walkValue func(value *language.Value)
	walkValue = func(value *language.Value) {
		if value == nil {
			return
		}
		if value.Kind == language.Variable {
			add(value.Raw)
			return
		}
		for _, child := range value.Children {
			walkValue(child.Value)
		}
	}

	var walkSet func(set selectionRefSet)
	walkSet = func(set selectionRefSet) {
		for _, sel := range set {
			switch sel := sel.(type) {
			case *fieldRef:
				for _, arg := range sel.field.Arguments {
					walkValue(arg.Value)
				}
				for _, d := range sel.field.Directives {
					for _, arg := range d.Arguments {
						walkValue(arg.Value)
					}
				}
				walkSet(sel.selectionSet)
			case *inlineFragmentRef:
				walkSet(sel.selectionSet)
			}
		}
	}
	walkSet(set)
	return variables, defs
}

// buildIntrospectionField records one __schema/__type/__typename selection
// with its arguments resolved against the operation variables.
func (c *planContext) buildIntrospectionField(
	introspection *IntrospectionSelectionSet,
	field *language.Field,
) {
	out := &IntrospectionField{
		Name:      field.Name,
		Alias:     field.Alias,
		Arguments: map[string]any{},
	}
	if out.Alias == out.Name {
		out.Alias = ""
	}
	for _, arg := range field.Arguments {
		out.Arguments[arg.Name] = c.valueToGo(arg.Value)
	}
	c.buildIntrospectionSelectionSet(&out.SelectionSet, field.SelectionSet)
	*introspection = append(*introspection, out)
}

func (c *planContext) buildIntrospectionSelectionSet(
	introspection *IntrospectionSelectionSet,
	selectionSet language.SelectionSet,
) {
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			c.buildIntrospectionField(introspection, sel)
		case *language.FragmentSpread:
			if frag := c.fragments.ForName(sel.Name); frag != nil {
				c.buildIntrospectionSelectionSet(introspection, frag.SelectionSet)
			}
		case *language.InlineFragment:
			c.buildIntrospectionSelectionSet(introspection, sel.SelectionSet)
		}
	}
}

// valueToGo resolves an AST value to a plain Go value, substituting operation
// variables.
func (c *planContext) valueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return c.variables[value.Raw]
	case language.IntValue:
		n, _ := strconv.ParseInt(value.Raw, 10, 64)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(value.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, 0, len(value.Children))
		for _, child := range value.Children {
			out = append(out, c.valueToGo(child.Value))
		}
		return out
	case language.ObjectValue:
		out := map[string]any{}
		for _, child := range value.Children {
			out[child.Name] = c.valueToGo(child.Value)
		}
		return out
	}
	return nil
}
