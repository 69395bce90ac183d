package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	language "github.com/graphgate/graphgate/internal/language"
)

// ServiceSDL is one subgraph's schema, as fetched from its _service resolver
// or supplied on the command line.
type ServiceSDL struct {
	Name string
	SDL  string
}

// Parse builds a Schema from a single pre-composed SDL document. Federation
// metadata is read from @owner(service:), @key(fields:, service:) and
// @resolve(service:) directives; service addresses from @service directives
// on the schema definition.
func Parse(document string) (*Schema, error) {
	doc, err := language.ParseSchema("schema.graphql", document)
	if err != nil {
		return nil, fmt.Errorf("parse composed schema: %w", err)
	}

	s := newSchema()
	for _, sd := range doc.Schema {
		for _, op := range sd.OperationTypes {
			switch op.Operation {
			case language.Query:
				s.QueryType = op.Type
			case language.Mutation:
				s.MutationType = op.Type
			case language.Subscription:
				s.SubscriptionType = op.Type
			}
		}
		for _, d := range sd.Directives {
			if d.Name != "service" {
				continue
			}
			name := directiveArgString(d, "name")
			addr := directiveArgString(d, "url")
			if name != "" && addr != "" {
				s.Services[name] = addr
			}
		}
	}
	if s.QueryType == "" {
		s.QueryType = "Query"
	}
	if s.MutationType == "" {
		s.MutationType = "Mutation"
	}
	if s.SubscriptionType == "" {
		s.SubscriptionType = "Subscription"
	}

	for _, def := range doc.Definitions {
		s.Types[def.Name] = convertDefinition("", def)
	}
	if s.Types[s.MutationType] == nil {
		s.MutationType = ""
	}
	if s.Types[s.SubscriptionType] == nil {
		s.SubscriptionType = ""
	}

	if err := finishSchema(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Compose merges per-subgraph federation SDLs into one Schema.
func Compose(services []ServiceSDL) (*Schema, error) {
	s := newSchema()
	s.QueryType = "Query"
	s.MutationType = "Mutation"
	s.SubscriptionType = "Subscription"
	for _, root := range []string{"Query", "Mutation", "Subscription"} {
		s.Types[root] = &Type{Name: root, Kind: TypeKindObject, Keys: map[string][]KeyFields{}}
	}

	for _, svc := range services {
		doc, err := language.ParseSchema(svc.Name+".graphql", svc.SDL)
		if err != nil {
			return nil, compositionErrorf(ErrSchemaNotAllowed, svc.Name, "invalid SDL: %s", err)
		}
		if len(doc.Schema) > 0 {
			return nil, compositionErrorf(ErrSchemaNotAllowed, svc.Name,
				"schema definitions are not allowed in federation SDL")
		}
		for _, def := range doc.Definitions {
			if err := s.mergeDefinition(svc.Name, def, false); err != nil {
				return nil, err
			}
		}
		for _, def := range doc.Extensions {
			if err := s.mergeDefinition(svc.Name, def, true); err != nil {
				return nil, err
			}
		}
	}

	if mutation := s.Types["Mutation"]; mutation != nil && len(mutation.Fields) == 0 {
		delete(s.Types, "Mutation")
		s.MutationType = ""
	}
	if subscription := s.Types["Subscription"]; subscription != nil && len(subscription.Fields) == 0 {
		delete(s.Types, "Subscription")
		s.SubscriptionType = ""
	}

	if err := finishSchema(s); err != nil {
		return nil, err
	}
	if err := verifySchema(s); err != nil {
		return nil, err
	}
	return s, nil
}

func newSchema() *Schema {
	return &Schema{
		Types:      map[string]*Type{},
		Directives: map[string]*Directive{},
		Services:   map[string]string{},
	}
}

func (s *Schema) mergeDefinition(service string, def *language.Definition, extend bool) error {
	if def.Kind != language.Object {
		t := convertDefinition(service, def)
		if existing, ok := s.Types[t.Name]; ok {
			if !reflect.DeepEqual(existing, t) {
				kind := ErrConflictingFieldTypes
				if def.Kind == language.Scalar || def.Kind == language.Enum {
					kind = ErrScalarConflict
				}
				return compositionErrorf(kind, service,
					"type %q is defined differently in another service", t.Name)
			}
			return nil
		}
		s.Types[t.Name] = t
		return nil
	}

	t, ok := s.Types[def.Name]
	if !ok {
		t = &Type{
			Name:        def.Name,
			Kind:        TypeKindObject,
			Description: def.Description,
			Keys:        map[string][]KeyFields{},
		}
		s.Types[def.Name] = t
	}
	isRoot := def.Name == "Query" || def.Name == "Mutation" || def.Name == "Subscription"

	if !extend {
		if t.Owner != "" && !isRoot {
			return compositionErrorf(ErrConflictingFieldTypes, service,
				"type %q is owned by both %q and %q", def.Name, t.Owner, service)
		}
		t.Owner = service
		if t.Description == "" {
			t.Description = def.Description
		}
	}

	for _, d := range def.Directives {
		if d.Name != "key" {
			continue
		}
		fields := directiveArgString(d, "fields")
		keys := ParseKeyFields(fields)
		if keys == nil {
			return compositionErrorf(ErrInvalidKey, service,
				"invalid @key fields %q on type %q", fields, def.Name)
		}
		t.Keys[service] = append(t.Keys[service], keys)
	}

	for _, name := range def.Interfaces {
		if !containsString(t.Implements, name) {
			t.Implements = append(t.Implements, name)
		}
	}

	for _, fd := range def.Fields {
		if extend && fd.Directives.ForName("external") != nil {
			continue
		}
		if t.FieldByName(fd.Name) != nil {
			return compositionErrorf(ErrDuplicateField, service,
				"field %q is already defined on type %q", fd.Name, def.Name)
		}
		field := convertFieldDefinition(fd)
		if extend || isRoot {
			field.Service = service
		}
		t.Fields = append(t.Fields, field)
	}
	return nil
}

// verifySchema checks the invariants Compose must guarantee: referenced types
// exist, extended types have an owner, and key field sets reach scalar leaves.
func verifySchema(s *Schema) error {
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := s.Types[name]
		isRoot := name == s.QueryType || name == s.MutationType || name == s.SubscriptionType

		for _, f := range t.Fields {
			if err := checkTypeExists(s, f.Type.NamedTypeOf(), name, f.Name); err != nil {
				return err
			}
			for _, arg := range f.Arguments {
				if err := checkTypeExists(s, arg.Type.NamedTypeOf(), name, f.Name); err != nil {
					return err
				}
			}
			if f.Service != "" && !isRoot && t.Owner == "" {
				return compositionErrorf(ErrMissingOwner, f.Service,
					"type %q is extended but no service owns it", name)
			}
		}
		for _, iv := range t.InputFields {
			if err := checkTypeExists(s, iv.Type.NamedTypeOf(), name, iv.Name); err != nil {
				return err
			}
		}
		for _, implement := range t.Implements {
			if s.Types[implement] == nil {
				return compositionErrorf(ErrUnknownType, "",
					"type %q implements unknown interface %q", name, implement)
			}
		}
		for service, keySets := range t.Keys {
			for _, keys := range keySets {
				if err := verifyKeyFields(s, t, keys, service); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkTypeExists(s *Schema, typeName, parent, field string) error {
	if typeName == "" || s.Types[typeName] != nil || strings.HasPrefix(typeName, "__") {
		if typeName == "" {
			return compositionErrorf(ErrUnknownType, "", "field %q on type %q has no type", field, parent)
		}
		return nil
	}
	return compositionErrorf(ErrUnknownType, "",
		"unknown type %q referenced by %s.%s", typeName, parent, field)
}

func verifyKeyFields(s *Schema, t *Type, keys KeyFields, service string) error {
	for _, key := range keys {
		field := t.FieldByName(key.Name)
		if field == nil {
			return compositionErrorf(ErrInvalidKey, service,
				"@key field %q does not exist on type %q", key.Name, t.Name)
		}
		fieldType := s.Types[field.Type.NamedTypeOf()]
		if fieldType == nil {
			return compositionErrorf(ErrInvalidKey, service,
				"@key field %q on type %q has unknown type", key.Name, t.Name)
		}
		if fieldType.IsLeaf() {
			if len(key.Children) > 0 {
				return compositionErrorf(ErrInvalidKey, service,
					"@key field %q on type %q is a leaf but selects sub-fields", key.Name, t.Name)
			}
			continue
		}
		if len(key.Children) == 0 {
			return compositionErrorf(ErrInvalidKey, service,
				"@key field %q on type %q must select scalar sub-fields", key.Name, t.Name)
		}
		if err := verifyKeyFields(s, fieldType, key.Children, service); err != nil {
			return err
		}
	}
	return nil
}

func convertDefinition(service string, def *language.Definition) *Type {
	t := &Type{
		Name:        def.Name,
		Description: def.Description,
		Keys:        map[string][]KeyFields{},
	}

	switch def.Kind {
	case language.Scalar:
		t.Kind = TypeKindScalar
	case language.Object, language.Interface:
		if def.Kind == language.Object {
			t.Kind = TypeKindObject
		} else {
			t.Kind = TypeKindInterface
		}
		t.Implements = append(t.Implements, def.Interfaces...)
		for _, fd := range def.Fields {
			t.Fields = append(t.Fields, convertFieldDefinition(fd))
		}
	case language.Union:
		t.Kind = TypeKindUnion
		t.PossibleTypes = append(t.PossibleTypes, def.Types...)
	case language.Enum:
		t.Kind = TypeKindEnum
		for _, ev := range def.EnumValues {
			value := &EnumValue{Name: ev.Name, Description: ev.Description}
			value.IsDeprecated, value.DeprecationReason = deprecation(ev.Directives)
			t.EnumValues = append(t.EnumValues, value)
		}
	case language.InputObject:
		t.Kind = TypeKindInputObject
		for _, fd := range def.Fields {
			t.InputFields = append(t.InputFields, &InputValue{
				Name:         fd.Name,
				Description:  fd.Description,
				Type:         TypeRefFromAST(fd.Type),
				DefaultValue: fd.DefaultValue,
			})
		}
	}

	for _, d := range def.Directives {
		switch d.Name {
		case "owner":
			t.Owner = directiveArgString(d, "service")
		case "key":
			fields := directiveArgString(d, "fields")
			keyService := directiveArgString(d, "service")
			if keyService == "" {
				keyService = service
			}
			if keys := ParseKeyFields(fields); keys != nil && keyService != "" {
				t.Keys[keyService] = append(t.Keys[keyService], keys)
			}
		}
	}
	return t
}

func convertFieldDefinition(fd *language.FieldDefinition) *Field {
	f := &Field{
		Name:        fd.Name,
		Description: fd.Description,
		Type:        TypeRefFromAST(fd.Type),
	}
	f.IsDeprecated, f.DeprecationReason = deprecation(fd.Directives)
	for _, arg := range fd.Arguments {
		f.Arguments = append(f.Arguments, &InputValue{
			Name:         arg.Name,
			Description:  arg.Description,
			Type:         TypeRefFromAST(arg.Type),
			DefaultValue: arg.DefaultValue,
		})
	}
	for _, d := range fd.Directives {
		switch d.Name {
		case "resolve":
			f.Service = directiveArgString(d, "service")
		case "requires":
			f.Requires = ParseKeyFields(directiveArgString(d, "fields"))
		case "provides":
			f.Provides = ParseKeyFields(directiveArgString(d, "fields"))
		}
	}
	return f
}

func deprecation(directives language.DirectiveList) (bool, string) {
	d := directives.ForName("deprecated")
	if d == nil {
		return false, ""
	}
	return true, directiveArgString(d, "reason")
}

func directiveArgString(d *language.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return arg.Value.Raw
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
