package validation

import (
	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
)

func (c *context) checkSelectionSet(
	selectionSet language.SelectionSet,
	parentType *schema.Type,
	op *language.OperationDefinition,
	usedVars map[string]bool,
	fragStack []string,
) {
	for _, sel := range selectionSet {
		switch sel := sel.(type) {
		case *language.Field:
			c.checkField(sel, parentType, op, usedVars, fragStack)
		case *language.InlineFragment:
			c.checkInlineFragment(sel, parentType, op, usedVars, fragStack)
		case *language.FragmentSpread:
			c.checkFragmentSpread(sel, parentType, op, usedVars, fragStack)
		}
	}
}

func (c *context) checkField(
	field *language.Field,
	parentType *schema.Type,
	op *language.OperationDefinition,
	usedVars map[string]bool,
	fragStack []string,
) {
	c.checkDirectives(field.Directives, "FIELD")
	for _, d := range field.Directives {
		c.checkDirectiveArguments(d, op, usedVars)
	}

	if field.Name == "__typename" {
		if len(field.SelectionSet) > 0 {
			c.addError(field.Position, "Field %q must not have a selection", field.Name)
		}
		return
	}

	// __type/__schema are looked up like ordinary fields: composition injects
	// them onto the query root.
	fieldDef := parentType.FieldByName(field.Name)
	if fieldDef == nil {
		c.addError(field.Position, "Cannot query field %q on type %q", field.Name, parentType.Name)
		return
	}

	c.checkArguments(field, fieldDef, op, usedVars)

	fieldType := c.schema.Types[fieldDef.Type.NamedTypeOf()]
	if fieldType == nil {
		c.addError(field.Position, "Unknown type %q", fieldDef.Type.NamedTypeOf())
		return
	}

	// ScalarLeafs: leaves take no sub-selection, composites require one.
	if fieldType.IsLeaf() {
		if len(field.SelectionSet) > 0 {
			c.addError(field.Position,
				"Field %q must not have a selection since type %q has no subfields",
				field.Name, fieldDef.Type.String())
		}
		return
	}
	if len(field.SelectionSet) == 0 {
		c.addError(field.Position,
			"Field %q of type %q must have a selection of subfields",
			field.Name, fieldDef.Type.String())
		return
	}
	c.checkSelectionSet(field.SelectionSet, fieldType, op, usedVars, fragStack)
}

func (c *context) checkInlineFragment(
	frag *language.InlineFragment,
	parentType *schema.Type,
	op *language.OperationDefinition,
	usedVars map[string]bool,
	fragStack []string,
) {
	c.checkDirectives(frag.Directives, "INLINE_FRAGMENT")
	for _, d := range frag.Directives {
		c.checkDirectiveArguments(d, op, usedVars)
	}

	inner := parentType
	if frag.TypeCondition != "" {
		cond := c.schema.Types[frag.TypeCondition]
		if cond == nil {
			c.addError(frag.Position, "Unknown type %q", frag.TypeCondition)
			return
		}
		if !cond.IsComposite() {
			c.addError(frag.Position, "Fragment cannot condition on non composite type %q", frag.TypeCondition)
			return
		}
		if !parentType.TypeOverlap(cond) && parentType.Name != cond.Name {
			c.addError(frag.Position,
				"Fragment cannot be spread here as objects of type %q can never be of type %q",
				parentType.Name, frag.TypeCondition)
			return
		}
		inner = cond
	}
	c.checkSelectionSet(frag.SelectionSet, inner, op, usedVars, fragStack)
}

func (c *context) checkFragmentSpread(
	spread *language.FragmentSpread,
	parentType *schema.Type,
	op *language.OperationDefinition,
	usedVars map[string]bool,
	fragStack []string,
) {
	c.checkDirectives(spread.Directives, "FRAGMENT_SPREAD")
	for _, d := range spread.Directives {
		c.checkDirectiveArguments(d, op, usedVars)
	}

	frag := c.doc.Fragments.ForName(spread.Name)
	if frag == nil {
		c.addError(spread.Position, "Unknown fragment %q", spread.Name)
		return
	}
	c.usedFragments[spread.Name] = true

	cond := c.schema.Types[frag.TypeCondition]
	if cond == nil || !cond.IsComposite() {
		// Reported by checkFragmentDefinitions.
		return
	}
	if !parentType.TypeOverlap(cond) && parentType.Name != cond.Name {
		c.addError(spread.Position,
			"Fragment %q cannot be spread here as objects of type %q can never be of type %q",
			spread.Name, parentType.Name, frag.TypeCondition)
		return
	}

	// Guard against revisiting on spread cycles; NoFragmentCycles reports them.
	for _, name := range fragStack {
		if name == spread.Name {
			return
		}
	}
	c.checkSelectionSet(frag.SelectionSet, cond, op, usedVars, append(fragStack, spread.Name))
}

func (c *context) checkArguments(
	field *language.Field,
	fieldDef *schema.Field,
	op *language.OperationDefinition,
	usedVars map[string]bool,
) {
	seen := map[string]bool{}
	for _, arg := range field.Arguments {
		if seen[arg.Name] {
			c.addError(arg.Position, "There can be only one argument named %q", arg.Name)
			continue
		}
		seen[arg.Name] = true

		argDef := fieldDef.ArgumentByName(arg.Name)
		if argDef == nil {
			c.addError(arg.Position, "Unknown argument %q on field %q of type %q",
				arg.Name, field.Name, fieldDef.Type.NamedTypeOf())
			continue
		}
		c.checkValue(arg.Value, argDef.Type, op, usedVars)
	}

	// ProvidedNonNullArguments.
	for _, argDef := range fieldDef.Arguments {
		if !argDef.Type.IsNonNull() || argDef.DefaultValue != nil {
			continue
		}
		if arg := field.Arguments.ForName(argDef.Name); arg == nil {
			c.addError(field.Position,
				"Field %q argument %q of type %q is required but not provided",
				field.Name, argDef.Name, argDef.Type.String())
		}
	}
}

func (c *context) checkDirectives(directives language.DirectiveList, location string) {
	for _, d := range directives {
		def := c.schema.Directives[d.Name]
		if def == nil {
			c.addError(d.Position, "Unknown directive %q", d.Name)
			continue
		}
		allowed := false
		for _, loc := range def.Locations {
			if loc == location {
				allowed = true
				break
			}
		}
		if !allowed {
			c.addError(d.Position, "Directive %q may not be used on %s", d.Name, location)
		}
	}
}

func (c *context) checkDirectiveArguments(
	d *language.Directive,
	op *language.OperationDefinition,
	usedVars map[string]bool,
) {
	def := c.schema.Directives[d.Name]
	if def == nil {
		return
	}
	for _, arg := range d.Arguments {
		var argDef *schema.InputValue
		for _, a := range def.Arguments {
			if a.Name == arg.Name {
				argDef = a
				break
			}
		}
		if argDef == nil {
			c.addError(arg.Position, "Unknown argument %q on directive %q", arg.Name, d.Name)
			continue
		}
		c.checkValue(arg.Value, argDef.Type, op, usedVars)
	}
	for _, argDef := range def.Arguments {
		if !argDef.Type.IsNonNull() || argDef.DefaultValue != nil {
			continue
		}
		if arg := d.Arguments.ForName(argDef.Name); arg == nil {
			c.addError(d.Position,
				"Directive %q argument %q of type %q is required but not provided",
				d.Name, argDef.Name, argDef.Type.String())
		}
	}
}
