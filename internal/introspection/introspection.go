// Package introspection answers __schema/__type selections from the composed
// schema model. Introspection never reaches a subgraph: the planner routes
// these selections here and the executor merges the result into the response.
package introspection

import (
	"sort"

	planner "github.com/graphgate/graphgate/internal/planner"
	schema "github.com/graphgate/graphgate/internal/schema"
)

// Resolve evaluates an introspection selection set against the schema.
func Resolve(s *schema.Schema, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = s.QueryType
		case "__schema":
			out[field.ResponseKey()] = resolveSchema(s, field.SelectionSet)
		case "__type":
			name, _ := field.Arguments["name"].(string)
			if t := s.Types[name]; t != nil {
				out[field.ResponseKey()] = resolveNamedType(s, t, field.SelectionSet)
			} else {
				out[field.ResponseKey()] = nil
			}
		}
	}
	return out
}

func resolveSchema(s *schema.Schema, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__Schema"
		case "description":
			out[field.ResponseKey()] = nil
		case "types":
			names := make([]string, 0, len(s.Types))
			for name := range s.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			types := make([]any, 0, len(names))
			for _, name := range names {
				types = append(types, resolveNamedType(s, s.Types[name], field.SelectionSet))
			}
			out[field.ResponseKey()] = types
		case "queryType":
			out[field.ResponseKey()] = resolveMaybeType(s, s.QueryType, field.SelectionSet)
		case "mutationType":
			out[field.ResponseKey()] = resolveMaybeType(s, s.MutationType, field.SelectionSet)
		case "subscriptionType":
			out[field.ResponseKey()] = resolveMaybeType(s, s.SubscriptionType, field.SelectionSet)
		case "directives":
			names := make([]string, 0, len(s.Directives))
			for name := range s.Directives {
				names = append(names, name)
			}
			sort.Strings(names)
			directives := make([]any, 0, len(names))
			for _, name := range names {
				directives = append(directives, resolveDirective(s, s.Directives[name], field.SelectionSet))
			}
			out[field.ResponseKey()] = directives
		}
	}
	return out
}

func resolveMaybeType(s *schema.Schema, name string, selectionSet planner.IntrospectionSelectionSet) any {
	if name == "" || s.Types[name] == nil {
		return nil
	}
	return resolveNamedType(s, s.Types[name], selectionSet)
}

func resolveNamedType(s *schema.Schema, t *schema.Type, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__Type"
		case "kind":
			out[field.ResponseKey()] = string(t.Kind)
		case "name":
			out[field.ResponseKey()] = t.Name
		case "description":
			out[field.ResponseKey()] = stringOrNil(t.Description)
		case "fields":
			if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
				out[field.ResponseKey()] = nil
				continue
			}
			includeDeprecated, _ := field.Arguments["includeDeprecated"].(bool)
			fields := make([]any, 0, len(t.Fields))
			for _, f := range t.Fields {
				if f.IsDeprecated && !includeDeprecated {
					continue
				}
				fields = append(fields, resolveField(s, f, field.SelectionSet))
			}
			out[field.ResponseKey()] = fields
		case "interfaces":
			if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
				out[field.ResponseKey()] = nil
				continue
			}
			interfaces := make([]any, 0, len(t.Implements))
			for _, name := range t.Implements {
				if it := s.Types[name]; it != nil {
					interfaces = append(interfaces, resolveNamedType(s, it, field.SelectionSet))
				}
			}
			out[field.ResponseKey()] = interfaces
		case "possibleTypes":
			if !t.IsAbstract() {
				out[field.ResponseKey()] = nil
				continue
			}
			possible := make([]any, 0, len(t.PossibleTypes))
			for _, name := range t.PossibleTypes {
				if pt := s.Types[name]; pt != nil {
					possible = append(possible, resolveNamedType(s, pt, field.SelectionSet))
				}
			}
			out[field.ResponseKey()] = possible
		case "enumValues":
			if t.Kind != schema.TypeKindEnum {
				out[field.ResponseKey()] = nil
				continue
			}
			includeDeprecated, _ := field.Arguments["includeDeprecated"].(bool)
			values := make([]any, 0, len(t.EnumValues))
			for _, v := range t.EnumValues {
				if v.IsDeprecated && !includeDeprecated {
					continue
				}
				values = append(values, resolveEnumValue(v, field.SelectionSet))
			}
			out[field.ResponseKey()] = values
		case "inputFields":
			if t.Kind != schema.TypeKindInputObject {
				out[field.ResponseKey()] = nil
				continue
			}
			values := make([]any, 0, len(t.InputFields))
			for _, iv := range t.InputFields {
				values = append(values, resolveInputValue(s, iv, field.SelectionSet))
			}
			out[field.ResponseKey()] = values
		case "ofType":
			out[field.ResponseKey()] = nil
		case "specifiedByURL":
			out[field.ResponseKey()] = nil
		}
	}
	return out
}

func resolveTypeRef(s *schema.Schema, ref *schema.TypeRef, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	if ref.Kind == schema.TypeRefKindNamed {
		if t := s.Types[ref.Named]; t != nil {
			return resolveNamedType(s, t, selectionSet)
		}
		return nil
	}

	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__Type"
		case "kind":
			if ref.Kind == schema.TypeRefKindNonNull {
				out[field.ResponseKey()] = "NON_NULL"
			} else {
				out[field.ResponseKey()] = "LIST"
			}
		case "ofType":
			out[field.ResponseKey()] = resolveTypeRef(s, ref.OfType, field.SelectionSet)
		case "name", "description", "fields", "interfaces", "possibleTypes",
			"enumValues", "inputFields", "specifiedByURL":
			out[field.ResponseKey()] = nil
		}
	}
	return out
}

func resolveField(s *schema.Schema, f *schema.Field, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__Field"
		case "name":
			out[field.ResponseKey()] = f.Name
		case "description":
			out[field.ResponseKey()] = stringOrNil(f.Description)
		case "args":
			args := make([]any, 0, len(f.Arguments))
			for _, arg := range f.Arguments {
				args = append(args, resolveInputValue(s, arg, field.SelectionSet))
			}
			out[field.ResponseKey()] = args
		case "type":
			out[field.ResponseKey()] = resolveTypeRef(s, f.Type, field.SelectionSet)
		case "isDeprecated":
			out[field.ResponseKey()] = f.IsDeprecated
		case "deprecationReason":
			out[field.ResponseKey()] = stringOrNil(f.DeprecationReason)
		}
	}
	return out
}

func resolveInputValue(s *schema.Schema, iv *schema.InputValue, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__InputValue"
		case "name":
			out[field.ResponseKey()] = iv.Name
		case "description":
			out[field.ResponseKey()] = stringOrNil(iv.Description)
		case "type":
			out[field.ResponseKey()] = resolveTypeRef(s, iv.Type, field.SelectionSet)
		case "defaultValue":
			if iv.DefaultValue != nil {
				out[field.ResponseKey()] = iv.DefaultValue.String()
			} else {
				out[field.ResponseKey()] = nil
			}
		}
	}
	return out
}

func resolveEnumValue(v *schema.EnumValue, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__EnumValue"
		case "name":
			out[field.ResponseKey()] = v.Name
		case "description":
			out[field.ResponseKey()] = stringOrNil(v.Description)
		case "isDeprecated":
			out[field.ResponseKey()] = v.IsDeprecated
		case "deprecationReason":
			out[field.ResponseKey()] = stringOrNil(v.DeprecationReason)
		}
	}
	return out
}

func resolveDirective(s *schema.Schema, d *schema.Directive, selectionSet planner.IntrospectionSelectionSet) map[string]any {
	out := map[string]any{}
	for _, field := range selectionSet {
		switch field.Name {
		case "__typename":
			out[field.ResponseKey()] = "__Directive"
		case "name":
			out[field.ResponseKey()] = d.Name
		case "description":
			out[field.ResponseKey()] = stringOrNil(d.Description)
		case "locations":
			locations := make([]any, 0, len(d.Locations))
			for _, loc := range d.Locations {
				locations = append(locations, loc)
			}
			out[field.ResponseKey()] = locations
		case "args":
			args := make([]any, 0, len(d.Arguments))
			for _, arg := range d.Arguments {
				args = append(args, resolveInputValue(s, arg, field.SelectionSet))
			}
			out[field.ResponseKey()] = args
		case "isRepeatable":
			out[field.ResponseKey()] = d.IsRepeatable
		}
	}
	return out
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
