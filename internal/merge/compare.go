package merge

import (
	"fmt"
	"sort"
	"strings"

	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// incompatibility describes why two definitions of a type cannot be merged,
// or returns "" when they are the same type. Descriptions and the order of
// fields, values and members are ignored. Interfaces may be implemented by
// different objects in each schema.
func incompatibility(a, b *schema.Type) string {
	if a.Kind != b.Kind {
		return fmt.Sprintf("kind %s differs from %s", a.Kind, b.Kind)
	}
	switch a.Kind {
	case schema.TypeKindObject, schema.TypeKindInterface:
		if r := compareNames("interfaces", a.Interfaces, b.Interfaces); r != "" {
			return r
		}
		return compareFields(a.Fields, b.Fields)
	case schema.TypeKindUnion:
		return compareNames("members", a.PossibleTypes, b.PossibleTypes)
	case schema.TypeKindEnum:
		names := func(vs []*schema.EnumValue) []string {
			out := make([]string, len(vs))
			for i, v := range vs {
				out[i] = v.Name
			}
			return out
		}
		return compareNames("values", names(a.EnumValues), names(b.EnumValues))
	case schema.TypeKindInputObject:
		if a.OneOf != b.OneOf {
			return "@oneOf differs"
		}
		return compareInputValues("input field ", a.InputFields, b.InputFields)
	}
	return ""
}

func compareNames(what string, a, b []string) string {
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	if strings.Join(x, ",") != strings.Join(y, ",") {
		return fmt.Sprintf("%s [%s] differ from [%s]", what, strings.Join(x, ", "), strings.Join(y, ", "))
	}
	return ""
}

func compareFields(a, b []*schema.Field) string {
	byName := make(map[string]*schema.Field, len(b))
	for _, f := range b {
		byName[f.Name] = f
	}
	for _, fa := range a {
		fb, ok := byName[fa.Name]
		if !ok {
			return fmt.Sprintf("field %s is missing from one definition", fa.Name)
		}
		if !fa.Type.Equal(fb.Type) {
			return fmt.Sprintf("field %s has type %s and %s", fa.Name, fa.Type, fb.Type)
		}
		if r := compareInputValues("argument "+fa.Name+".", fa.Arguments, fb.Arguments); r != "" {
			return r
		}
		delete(byName, fa.Name)
	}
	if len(byName) > 0 {
		return fmt.Sprintf("field %s is missing from one definition", firstKey(byName))
	}
	return ""
}

func compareInputValues(what string, a, b []*schema.InputValue) string {
	byName := make(map[string]*schema.InputValue, len(b))
	for _, v := range b {
		byName[v.Name] = v
	}
	for _, va := range a {
		vb, ok := byName[va.Name]
		if !ok {
			return fmt.Sprintf("%s%s is missing from one definition", what, va.Name)
		}
		if !va.Type.Equal(vb.Type) {
			return fmt.Sprintf("%s%s has type %s and %s", what, va.Name, va.Type, vb.Type)
		}
		if schema.FormatValue(va.DefaultValue) != schema.FormatValue(vb.DefaultValue) {
			return fmt.Sprintf("%s%s has different default values", what, va.Name)
		}
		delete(byName, va.Name)
	}
	if len(byName) > 0 {
		return fmt.Sprintf("%s%s is missing from one definition", what, firstKey(byName))
	}
	return ""
}

func firstKey[V any](m map[string]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
