package validation

import (
	language "github.com/graphgate/graphgate/internal/language"
	schema "github.com/graphgate/graphgate/internal/schema"
)

// checkValue verifies that value can be coerced to the expected type,
// recording variable usage and checking variable positions along the way.
func (c *context) checkValue(
	value *language.Value,
	expected *schema.TypeRef,
	op *language.OperationDefinition,
	usedVars map[string]bool,
) {
	if value == nil {
		return
	}

	if value.Kind == language.Variable {
		c.checkVariableUsage(value, expected, op, usedVars)
		return
	}

	if value.Kind == language.NullValue {
		if expected.IsNonNull() {
			c.addError(value.Position, "Expected value of type %q, found null", expected.String())
		}
		return
	}

	if expected.IsNonNull() {
		c.checkValue(value, expected.Unwrap(), op, usedVars)
		return
	}

	if expected.Kind == schema.TypeRefKindList {
		inner := expected.Unwrap()
		if value.Kind == language.ListValue {
			for _, child := range value.Children {
				c.checkValue(child.Value, inner, op, usedVars)
			}
			return
		}
		// Single values coerce to one-element lists.
		c.checkValue(value, inner, op, usedVars)
		return
	}

	t := c.schema.Types[expected.Named]
	if t == nil {
		c.addError(value.Position, "Unknown type %q", expected.Named)
		return
	}

	switch t.Kind {
	case schema.TypeKindScalar:
		c.checkScalarValue(value, t)
	case schema.TypeKindEnum:
		c.checkEnumValue(value, t)
	case schema.TypeKindInputObject:
		c.checkInputObjectValue(value, t, op, usedVars)
	default:
		c.addError(value.Position, "Type %q is not an input type", t.Name)
	}
}

func (c *context) checkScalarValue(value *language.Value, t *schema.Type) {
	ok := true
	switch t.Name {
	case "Int":
		ok = value.Kind == language.IntValue
	case "Float":
		ok = value.Kind == language.IntValue || value.Kind == language.FloatValue
	case "String":
		ok = value.Kind == language.StringValue || value.Kind == language.BlockValue
	case "Boolean":
		ok = value.Kind == language.BooleanValue
	case "ID":
		ok = value.Kind == language.IntValue ||
			value.Kind == language.StringValue || value.Kind == language.BlockValue
	default:
		// Custom scalars accept any literal.
	}
	if !ok {
		c.addError(value.Position, "Expected value of type %q, found %s", t.Name, value.String())
	}
}

func (c *context) checkEnumValue(value *language.Value, t *schema.Type) {
	if value.Kind != language.EnumValue {
		c.addError(value.Position, "Expected value of type %q, found %s", t.Name, value.String())
		return
	}
	for _, ev := range t.EnumValues {
		if ev.Name == value.Raw {
			return
		}
	}
	c.addError(value.Position, "Enum %q has no value %q", t.Name, value.Raw)
}

func (c *context) checkInputObjectValue(
	value *language.Value,
	t *schema.Type,
	op *language.OperationDefinition,
	usedVars map[string]bool,
) {
	if value.Kind != language.ObjectValue {
		c.addError(value.Position, "Expected value of type %q, found %s", t.Name, value.String())
		return
	}

	seen := map[string]bool{}
	for _, child := range value.Children {
		var fieldDef *schema.InputValue
		for _, iv := range t.InputFields {
			if iv.Name == child.Name {
				fieldDef = iv
				break
			}
		}
		if fieldDef == nil {
			c.addError(value.Position, "Unknown field %q on input type %q", child.Name, t.Name)
			continue
		}
		seen[child.Name] = true
		c.checkValue(child.Value, fieldDef.Type, op, usedVars)
	}

	for _, iv := range t.InputFields {
		if iv.Type.IsNonNull() && iv.DefaultValue == nil && !seen[iv.Name] {
			c.addError(value.Position, "Field %q of type %q is required but not provided", iv.Name, t.Name)
		}
	}
}

func (c *context) checkVariableUsage(
	value *language.Value,
	expected *schema.TypeRef,
	op *language.OperationDefinition,
	usedVars map[string]bool,
) {
	if op == nil {
		return
	}
	name := value.Raw
	usedVars[name] = true

	var def *language.VariableDefinition
	for _, vd := range op.VariableDefinitions {
		if vd.Variable == name {
			def = vd
			break
		}
	}
	if def == nil {
		c.addError(value.Position, "Variable %q is not defined by operation %q", "$"+name, op.Name)
		return
	}

	varType := schema.TypeRefFromAST(def.Type)
	if !typeCompatible(varType, expected, def.DefaultValue != nil) {
		c.addError(value.Position,
			"Variable %q of type %q used in position expecting type %q",
			"$"+name, varType.String(), expected.String())
	}
}

// typeCompatible implements the VariableInAllowedPosition subtype rules: a
// variable with a default value may appear in a non-null position of its
// inner type.
func typeCompatible(varType, locationType *schema.TypeRef, hasDefault bool) bool {
	if locationType.IsNonNull() {
		if varType.IsNonNull() {
			return typeCompatible(varType.Unwrap(), locationType.Unwrap(), false)
		}
		if hasDefault {
			return typeCompatible(varType, locationType.Unwrap(), false)
		}
		return false
	}
	if varType.IsNonNull() {
		return typeCompatible(varType.Unwrap(), locationType, false)
	}
	if locationType.Kind == schema.TypeRefKindList {
		return varType.Kind == schema.TypeRefKindList &&
			typeCompatible(varType.Unwrap(), locationType.Unwrap(), false)
	}
	if varType.Kind == schema.TypeRefKindList {
		return false
	}
	return varType.Named == locationType.Named
}
