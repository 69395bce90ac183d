package schema

import (
	_ "embed"
	"fmt"
	"sort"

	language "github.com/graphgate/graphgate/internal/language"
)

//go:embed builtin.graphql
var builtinSDL string

// finishSchema injects built-in scalars, introspection types and directives,
// adds the __type/__schema meta fields to the query root, and computes
// interface back-links. It is the last step of both Parse and Compose.
func finishSchema(s *Schema) error {
	doc, err := language.ParseSchema("builtin.graphql", builtinSDL)
	if err != nil {
		return fmt.Errorf("parse builtin schema: %w", err)
	}
	for _, def := range doc.Definitions {
		t := convertDefinition("", def)
		if len(t.Name) >= 2 && t.Name[:2] == "__" {
			t.IsIntrospection = true
		}
		s.Types[t.Name] = t
	}
	for _, dd := range doc.Directives {
		d := &Directive{
			Name:         dd.Name,
			Description:  dd.Description,
			IsRepeatable: dd.IsRepeatable,
		}
		for _, loc := range dd.Locations {
			d.Locations = append(d.Locations, string(loc))
		}
		for _, arg := range dd.Arguments {
			d.Arguments = append(d.Arguments, &InputValue{
				Name:         arg.Name,
				Description:  arg.Description,
				Type:         TypeRefFromAST(arg.Type),
				DefaultValue: arg.DefaultValue,
			})
		}
		s.Directives[d.Name] = d
	}

	if queryType := s.GetQueryType(); queryType != nil {
		queryType.Fields = append(queryType.Fields,
			&Field{
				Name: "__type",
				Type: NamedType("__Type"),
				Arguments: []*InputValue{
					{Name: "name", Type: NonNullType(NamedType("String"))},
				},
			},
			&Field{
				Name: "__schema",
				Type: NonNullType(NamedType("__Schema")),
			},
		)
	}

	for _, t := range s.Types {
		if t.Kind != TypeKindObject {
			continue
		}
		for _, implement := range t.Implements {
			iface := s.Types[implement]
			if iface == nil || iface.Kind != TypeKindInterface {
				continue
			}
			iface.PossibleTypes = append(iface.PossibleTypes, t.Name)
		}
	}
	for _, t := range s.Types {
		if t.Kind == TypeKindInterface {
			sort.Strings(t.PossibleTypes)
		}
	}
	return nil
}
