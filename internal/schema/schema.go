package schema

import (
	language "github.com/graphgate/graphgate/internal/language"
)

// Schema is the composed graph shared read-only by the validator, planner and
// executor. It is immutable after composition; updates replace the whole value.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Types            map[string]*Type // all named types keyed by name
	Directives       map[string]*Directive
	// Services maps service name to address, populated from @service
	// directives when parsing a pre-composed SDL.
	Services map[string]string
}

// GetQueryType returns the root query type (may be nil if absent).
func (s *Schema) GetQueryType() *Type { return s.Types[s.QueryType] }

// GetMutationType returns the root mutation type (may be nil if absent).
func (s *Schema) GetMutationType() *Type { return s.Types[s.MutationType] }

// GetSubscriptionType returns the root subscription type (may be nil if absent).
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// TypeByName looks up a named type.
func (s *Schema) TypeByName(name string) *Type { return s.Types[name] }

// GetType resolves the innermost named type of an AST type reference.
func (s *Schema) GetType(t *language.Type) *Type {
	return s.Types[language.NamedType(t)]
}

// RootType returns the root object type for the given operation.
func (s *Schema) RootType(op language.Operation) *Type {
	switch op {
	case language.Query:
		return s.GetQueryType()
	case language.Mutation:
		return s.GetMutationType()
	case language.Subscription:
		return s.GetSubscriptionType()
	}
	return nil
}

// FieldService returns the service that resolves field on parent: the field's
// @resolve service if set, otherwise the parent type's owner.
func (s *Schema) FieldService(parent *Type, field *Field) string {
	if field.Service != "" {
		return field.Service
	}
	return parent.Owner
}

// IsSubType reports whether concrete is a member of abstract (interface or
// union membership, or the same object type).
func (s *Schema) IsSubType(abstract, concrete string) bool {
	at := s.Types[abstract]
	if at == nil {
		return false
	}
	return at.IsPossibleType(concrete)
}

// Type is a named GraphQL type with federation metadata.
type Type struct {
	Name        string
	Kind        TypeKind
	Description string

	// Owner is the subgraph that declares the type's identity. Empty for
	// value types and for root types composed from extensions only.
	Owner string
	// Keys maps service name to the @key field sets usable from it.
	Keys map[string][]KeyFields

	IsIntrospection bool

	Fields        []*Field      // for OBJECT and INTERFACE
	Implements    []string      // for OBJECT and INTERFACE
	PossibleTypes []string      // for INTERFACE and UNION
	EnumValues    []*EnumValue  // for ENUM
	InputFields   []*InputValue // for INPUT_OBJECT
}

// FieldByName returns the named field, or nil.
func (t *Type) FieldByName(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (t *Type) IsComposite() bool {
	return t.Kind == TypeKindObject || t.Kind == TypeKindInterface || t.Kind == TypeKindUnion
}

func (t *Type) IsAbstract() bool {
	return t.Kind == TypeKindInterface || t.Kind == TypeKindUnion
}

func (t *Type) IsLeaf() bool {
	return t.Kind == TypeKindScalar || t.Kind == TypeKindEnum
}

func (t *Type) IsInput() bool {
	return t.Kind == TypeKindScalar || t.Kind == TypeKindEnum || t.Kind == TypeKindInputObject
}

// IsPossibleType reports whether typeName can occur where t is expected.
func (t *Type) IsPossibleType(typeName string) bool {
	switch t.Kind {
	case TypeKindInterface, TypeKindUnion:
		for _, name := range t.PossibleTypes {
			if name == typeName {
				return true
			}
		}
		return false
	case TypeKindObject:
		return t.Name == typeName
	}
	return false
}

// TypeOverlap reports whether t and other can describe a common object type.
func (t *Type) TypeOverlap(other *Type) bool {
	if t == other {
		return true
	}
	switch {
	case t.IsAbstract() && other.IsAbstract():
		for _, name := range t.PossibleTypes {
			if other.IsPossibleType(name) {
				return true
			}
		}
		return false
	case t.IsAbstract():
		return t.IsPossibleType(other.Name)
	case other.IsAbstract():
		return other.IsPossibleType(t.Name)
	}
	return false
}

// KeysFor returns the primary key field set usable from service, falling back
// to the owner's keys.
func (t *Type) KeysFor(service string) KeyFields {
	if sets := t.Keys[service]; len(sets) > 0 {
		return sets[0]
	}
	if t.Owner != "" {
		if sets := t.Keys[t.Owner]; len(sets) > 0 {
			return sets[0]
		}
	}
	return nil
}

// Field is a field on an object or interface type.
type Field struct {
	Name        string
	Description string
	Type        *TypeRef
	Arguments   []*InputValue

	// Service is the subgraph resolving this field when it is not resolved
	// by the parent type's owner (@resolve / extension field).
	Service string
	// Requires lists parent fields the resolving service needs pre-fetched.
	Requires KeyFields
	// Provides lists child fields this field's resolver returns pre-fetched.
	Provides KeyFields

	IsDeprecated      bool
	DeprecationReason string
}

// ArgumentByName returns the named argument definition, or nil.
func (f *Field) ArgumentByName(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// TypeKind is the kind of a named GraphQL type.
type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef is a reference to a type, including list and non-null wrappers.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef // for LIST and NON_NULL
	Named  string   // for NAMED
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool {
	return t != nil && t.Kind == TypeRefKindNonNull
}

func (t *TypeRef) IsList() bool {
	if t == nil {
		return false
	}
	if t.Kind == TypeRefKindList {
		return true
	}
	return t.Kind == TypeRefKindNonNull && t.OfType != nil && t.OfType.Kind == TypeRefKindList
}

// Unwrap removes one layer of Non-Null or List wrapping.
func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNonNull || t.Kind == TypeRefKindList {
		return t.OfType
	}
	return t
}

// NamedTypeOf returns the innermost named type.
func (t *TypeRef) NamedTypeOf() string {
	for cur := t; cur != nil; cur = cur.OfType {
		if cur.Named != "" {
			return cur.Named
		}
	}
	return ""
}

func (t *TypeRef) String() string {
	switch t.Kind {
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	default:
		return t.Named
	}
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

// TypeRefFromAST converts a parsed AST type into a TypeRef.
func TypeRefFromAST(t *language.Type) *TypeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		inner := &language.Type{NamedType: t.NamedType, Elem: t.Elem}
		return NonNullType(TypeRefFromAST(inner))
	}
	if t.NamedType != "" {
		return NamedType(t.NamedType)
	}
	return ListType(TypeRefFromAST(t.Elem))
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name         string
	Description  string
	Type         *TypeRef
	DefaultValue *language.Value
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}
