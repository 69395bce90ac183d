package schema

import "fmt"

// CompositionErrorKind classifies why composing subgraph schemas failed.
type CompositionErrorKind string

const (
	ErrUnknownType           CompositionErrorKind = "UnknownType"
	ErrDuplicateField        CompositionErrorKind = "DuplicateField"
	ErrConflictingFieldTypes CompositionErrorKind = "ConflictingFieldTypes"
	ErrMissingOwner          CompositionErrorKind = "MissingOwner"
	ErrInvalidKey            CompositionErrorKind = "InvalidKey"
	ErrScalarConflict        CompositionErrorKind = "ScalarConflict"
	ErrSchemaNotAllowed      CompositionErrorKind = "SchemaNotAllowed"
)

// CompositionError reports a single composition failure.
type CompositionError struct {
	Kind    CompositionErrorKind
	Service string
	Message string
}

func (e *CompositionError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s (service %q)", e.Kind, e.Message, e.Service)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func compositionErrorf(kind CompositionErrorKind, service, format string, args ...any) *CompositionError {
	return &CompositionError{Kind: kind, Service: service, Message: fmt.Sprintf(format, args...)}
}
