package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Render prints s as SDL. Types and directives appear in name order;
// built-in scalars, built-in directives and introspection types are omitted.
func Render(s *Schema) string {
	if s == nil {
		return ""
	}
	p := &printer{}
	p.schemaBlock(s)

	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		if !IsBuiltinScalar(name) && !strings.HasPrefix(name, "__") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p.typeDef(s.Types[name])
	}

	names = names[:0]
	for name := range s.Directives {
		if !IsBuiltinDirective(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p.directiveDef(s.Directives[name])
	}
	return strings.TrimRight(p.String(), "\n") + "\n"
}

var conventionalRoots = map[string]string{"query": "Query", "mutation": "Mutation", "subscription": "Subscription"}

type printer struct {
	strings.Builder
}

func (p *printer) printf(format string, args ...any) { fmt.Fprintf(p, format, args...) }

// schemaBlock is only printed when some root type has an unconventional name.
func (p *printer) schemaBlock(s *Schema) {
	roots := []struct{ op, name string }{
		{"query", s.QueryType},
		{"mutation", s.MutationType},
		{"subscription", s.SubscriptionType},
	}
	custom := false
	for _, r := range roots {
		custom = custom || (r.name != "" && r.name != conventionalRoots[r.op])
	}
	if !custom {
		return
	}
	p.WriteString("schema {\n")
	for _, r := range roots {
		if r.name != "" {
			p.printf("  %s: %s\n", r.op, r.name)
		}
	}
	p.WriteString("}\n\n")
}

func (p *printer) description(indent, text string) {
	if text == "" {
		return
	}
	p.printf("%s\"\"\"\n%s%s\n%s\"\"\"\n", indent, indent, strings.ReplaceAll(text, `"""`, `\"""`), indent)
}

func (p *printer) deprecated(is bool, reason string) {
	if !is {
		return
	}
	p.WriteString(" @deprecated")
	if reason != "" {
		p.printf("(reason: %s)", strconv.Quote(reason))
	}
}

func (p *printer) inputValue(v *InputValue) {
	p.printf("%s: %s", v.Name, v.Type)
	if v.DefaultValue != nil {
		p.printf(" = %s", renderValue(v.DefaultValue))
	}
	p.deprecated(v.IsDeprecated, v.DeprecationReason)
}

func (p *printer) arguments(args []*InputValue) {
	if len(args) == 0 {
		return
	}
	p.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			p.WriteString(", ")
		}
		p.inputValue(a)
	}
	p.WriteByte(')')
}

func (p *printer) typeDef(t *Type) {
	p.description("", t.Description)
	switch t.Kind {
	case TypeKindScalar:
		p.printf("scalar %s", t.Name)
		if t.SpecifiedByURL != nil {
			p.printf(" @specifiedBy(url: %s)", strconv.Quote(*t.SpecifiedByURL))
		}
		p.WriteString("\n\n")

	case TypeKindUnion:
		p.printf("union %s = %s\n\n", t.Name, strings.Join(t.PossibleTypes, " | "))

	case TypeKindEnum:
		p.printf("enum %s {\n", t.Name)
		for _, v := range t.EnumValues {
			p.description("  ", v.Description)
			p.printf("  %s", v.Name)
			p.deprecated(v.IsDeprecated, v.DeprecationReason)
			p.WriteByte('\n')
		}
		p.WriteString("}\n\n")

	case TypeKindInputObject:
		p.printf("input %s", t.Name)
		if t.OneOf {
			p.WriteString(" @oneOf")
		}
		p.WriteString(" {\n")
		for _, f := range t.InputFields {
			p.description("  ", f.Description)
			p.WriteString("  ")
			p.inputValue(f)
			p.WriteByte('\n')
		}
		p.WriteString("}\n\n")

	case TypeKindObject, TypeKindInterface:
		keyword := "type"
		if t.Kind == TypeKindInterface {
			keyword = "interface"
		}
		p.printf("%s %s", keyword, t.Name)
		if len(t.Interfaces) > 0 {
			p.printf(" implements %s", strings.Join(t.Interfaces, " & "))
		}
		p.WriteString(" {\n")
		for _, f := range t.Fields {
			p.description("  ", f.Description)
			p.printf("  %s", f.Name)
			p.arguments(f.Arguments)
			p.printf(": %s", f.Type)
			p.deprecated(f.IsDeprecated, f.DeprecationReason)
			p.WriteByte('\n')
		}
		p.WriteString("}\n\n")
	}
}

func (p *printer) directiveDef(d *Directive) {
	p.description("", d.Description)
	p.printf("directive @%s", d.Name)
	p.arguments(d.Arguments)
	if d.IsRepeatable {
		p.WriteString(" repeatable")
	}
	p.printf(" on %s\n\n", strings.Join(d.Locations, " | "))
}

func renderTypeRef(t *TypeRef) string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindList:
		return "[" + renderTypeRef(t.OfType) + "]"
	case TypeRefKindNonNull:
		return renderTypeRef(t.OfType) + "!"
	}
	return t.Named
}

// FormatValue renders a Go value as a GraphQL literal.
func FormatValue(value any) string { return renderValue(value) }

func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case EnumLiteral:
		return string(v)
	case string:
		return strconv.Quote(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + renderValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	// ints and bools print as Go does
	return fmt.Sprint(value)
}
