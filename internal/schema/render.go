package schema

import (
	"sort"
	"strings"
)

// Render produces SDL for the composed schema, including the federation
// directives Parse understands, so a composed schema can be written out and
// loaded again. Type names, and @key directives by service, are sorted for
// determinism; built-in scalars, introspection types and directive
// definitions are not written.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	var b strings.Builder

	typeNames := make([]string, 0, len(s.Types))
	for name, t := range s.Types {
		if t.IsIntrospection || isBuiltinScalar(name) {
			continue
		}
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	for _, name := range typeNames {
		t := s.Types[name]
		switch t.Kind {
		case TypeKindScalar:
			renderDescription(&b, t.Description)
			b.WriteString("scalar ")
			b.WriteString(t.Name)
			b.WriteString("\n\n")
		case TypeKindEnum:
			renderEnum(&b, t)
		case TypeKindInputObject:
			renderInputObject(&b, t)
		case TypeKindObject, TypeKindInterface:
			renderObjectLike(&b, t)
		case TypeKindUnion:
			renderUnion(&b, t)
		}
	}

	out := strings.TrimRight(b.String(), "\n") + "\n"
	return out
}

func isBuiltinScalar(name string) bool {
	switch name {
	case "Int", "Float", "String", "Boolean", "ID", "_Any":
		return true
	}
	return false
}

func renderDescription(b *strings.Builder, desc string) {
	if desc == "" {
		return
	}
	b.WriteString("\"\"\"\n")
	b.WriteString(strings.ReplaceAll(desc, "\"", "\\\""))
	b.WriteString("\n\"\"\"\n")
}

func renderEnum(b *strings.Builder, t *Type) {
	renderDescription(b, t.Description)
	b.WriteString("enum ")
	b.WriteString(t.Name)
	b.WriteString(" {\n")
	for _, val := range t.EnumValues {
		renderDescription(b, val.Description)
		b.WriteString("  ")
		b.WriteString(val.Name)
		renderDeprecated(b, val.IsDeprecated, val.DeprecationReason)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func renderInputObject(b *strings.Builder, t *Type) {
	renderDescription(b, t.Description)
	b.WriteString("input ")
	b.WriteString(t.Name)
	b.WriteString(" {\n")
	for _, iv := range t.InputFields {
		b.WriteString("  ")
		b.WriteString(iv.Name)
		b.WriteString(": ")
		b.WriteString(iv.Type.String())
		if iv.DefaultValue != nil {
			b.WriteString(" = ")
			b.WriteString(iv.DefaultValue.String())
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func renderObjectLike(b *strings.Builder, t *Type) {
	renderDescription(b, t.Description)
	if t.Kind == TypeKindInterface {
		b.WriteString("interface ")
	} else {
		b.WriteString("type ")
	}
	b.WriteString(t.Name)
	if len(t.Implements) > 0 {
		b.WriteString(" implements ")
		b.WriteString(strings.Join(t.Implements, " & "))
	}
	if t.Owner != "" {
		b.WriteString(" @owner(service: \"")
		b.WriteString(t.Owner)
		b.WriteString("\")")
	}
	services := make([]string, 0, len(t.Keys))
	for service := range t.Keys {
		services = append(services, service)
	}
	sort.Strings(services)
	for _, service := range services {
		for _, keys := range t.Keys[service] {
			b.WriteString(" @key(fields: \"")
			renderKeyFields(b, keys)
			b.WriteString("\", service: \"")
			b.WriteString(service)
			b.WriteString("\")")
		}
	}
	b.WriteString(" {\n")
	for _, f := range t.Fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		renderField(b, f)
	}
	b.WriteString("}\n\n")
}

func renderField(b *strings.Builder, f *Field) {
	renderDescription(b, f.Description)
	b.WriteString("  ")
	b.WriteString(f.Name)
	if len(f.Arguments) > 0 {
		b.WriteString("(")
		for i, arg := range f.Arguments {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(arg.Name)
			b.WriteString(": ")
			b.WriteString(arg.Type.String())
			if arg.DefaultValue != nil {
				b.WriteString(" = ")
				b.WriteString(arg.DefaultValue.String())
			}
		}
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(f.Type.String())
	if f.Service != "" {
		b.WriteString(" @resolve(service: \"")
		b.WriteString(f.Service)
		b.WriteString("\")")
	}
	if len(f.Requires) > 0 {
		b.WriteString(" @requires(fields: \"")
		renderKeyFields(b, f.Requires)
		b.WriteString("\")")
	}
	if len(f.Provides) > 0 {
		b.WriteString(" @provides(fields: \"")
		renderKeyFields(b, f.Provides)
		b.WriteString("\")")
	}
	renderDeprecated(b, f.IsDeprecated, f.DeprecationReason)
	b.WriteString("\n")
}

func renderUnion(b *strings.Builder, t *Type) {
	renderDescription(b, t.Description)
	b.WriteString("union ")
	b.WriteString(t.Name)
	b.WriteString(" = ")
	b.WriteString(strings.Join(t.PossibleTypes, " | "))
	b.WriteString("\n\n")
}

func renderDeprecated(b *strings.Builder, deprecated bool, reason string) {
	if !deprecated {
		return
	}
	b.WriteString(" @deprecated")
	if reason != "" {
		b.WriteString("(reason: \"")
		b.WriteString(reason)
		b.WriteString("\")")
	}
}

func renderKeyFields(b *strings.Builder, keys KeyFields) {
	for i, key := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(key.Name)
		if len(key.Children) > 0 {
			b.WriteString(" { ")
			renderKeyFields(b, key.Children)
			b.WriteString(" }")
		}
	}
}
