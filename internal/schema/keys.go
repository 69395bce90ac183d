package schema

import (
	language "github.com/graphgate/graphgate/internal/language"
)

// KeyField is one field of an entity key, possibly with a nested selection.
type KeyField struct {
	Name     string
	Children KeyFields
}

// KeyFields is an ordered field set, as parsed from @key/@requires/@provides
// arguments like "upc" or "author { id }".
type KeyFields []KeyField

// Get returns the children selection for name and whether name is present.
func (k KeyFields) Get(name string) (KeyFields, bool) {
	for _, f := range k {
		if f.Name == name {
			return f.Children, true
		}
	}
	return nil, false
}

func (k KeyFields) IsEmpty() bool { return len(k) == 0 }

// ParseKeyFields parses a field-set string into KeyFields. Returns nil if the
// string is not a valid selection of plain fields.
func ParseKeyFields(fields string) KeyFields {
	doc, err := language.ParseQuery("{" + fields + "}")
	if err != nil || len(doc.Operations) != 1 {
		return nil
	}
	return keyFieldsFromSelectionSet(doc.Operations[0].SelectionSet)
}

func keyFieldsFromSelectionSet(selectionSet language.SelectionSet) KeyFields {
	var out KeyFields
	for _, sel := range selectionSet {
		field, ok := sel.(*language.Field)
		if !ok {
			continue
		}
		out = append(out, KeyField{
			Name:     field.Name,
			Children: keyFieldsFromSelectionSet(field.SelectionSet),
		})
	}
	return out
}
