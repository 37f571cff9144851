package introspection

import (
	"context"
	"sort"
	"strings"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// Wrapped is a runtime that answers introspection fields together with the
// schema it must be executed against.
type Wrapped struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with the introspection types and returns a runtime that
// serves __schema and __type from it. Every other field goes to base.
func Wrap(base executor.Runtime, sch *schema.Schema) *Wrapped {
	extended := extend(sch)
	return &Wrapped{
		Runtime: &runtime{base: base, schema: extended},
		Schema:  extended,
	}
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
}

func (r *runtime) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	if v, ok := r.meta(task); ok {
		return v, nil
	}
	return r.base.ResolveSync(ctx, task)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.ResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "__TypeKind", "__DirectiveLocation":
		return value, nil
	}
	return r.base.SerializeLeafValue(ctx, typeName, value)
}

// meta resolves fields whose source is one of the schema model types, plus
// the two meta fields on the query type.
func (r *runtime) meta(task executor.ResolveTask) (any, bool) {
	switch src := task.Source.(type) {
	case *schema.Schema:
		return r.schemaField(src, task.Field)
	case *schema.Type:
		return r.typeField(src, task.Field, task.Args)
	case *schema.TypeRef:
		return r.typeRefField(src, task.Field, task.Args)
	case *schema.Field:
		return fieldField(src, task.Field, task.Args)
	case *schema.InputValue:
		return inputValueField(src, task.Field)
	case *schema.EnumValue:
		return enumValueField(src, task.Field)
	case *schema.Directive:
		return directiveField(src, task.Field, task.Args)
	}
	if task.ObjectType != r.schema.QueryType {
		return nil, false
	}
	switch task.Field {
	case "__schema":
		return r.schema, true
	case "__type":
		name, _ := task.Args["name"].(string)
		return r.schema.Types[name], true
	}
	return nil, false
}

func (r *runtime) schemaField(s *schema.Schema, field string) (any, bool) {
	switch field {
	case "description":
		return optional(s.Description), true
	case "types":
		names := make([]string, 0, len(s.Types))
		for name := range s.Types {
			names = append(names, name)
		}
		sort.Strings(names)
		return r.lookup(names), true
	case "queryType":
		return s.GetQueryType(), true
	case "mutationType":
		return s.GetMutationType(), true
	case "subscriptionType":
		return s.GetSubscriptionType(), true
	case "directives":
		dirs := make([]*schema.Directive, 0, len(s.Directives))
		for _, d := range s.Directives {
			dirs = append(dirs, d)
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
		return dirs, true
	}
	return nil, false
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) (any, bool) {
	switch field {
	case "kind":
		return string(t.Kind), true
	case "name":
		return t.Name, true
	case "description":
		return optional(t.Description), true
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil, true
		}
		return *t.SpecifiedByURL, true
	case "isOneOf":
		return t.OneOf, true
	case "ofType":
		return nil, true
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		fields := make([]*schema.Field, 0, len(t.Fields))
		for _, f := range visible(t.Fields, args, func(f *schema.Field) bool { return f.IsDeprecated }) {
			if !strings.HasPrefix(f.Name, "__") {
				fields = append(fields, f)
			}
		}
		return fields, true
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, true
		}
		return r.lookup(t.Interfaces), true
	case "possibleTypes":
		if !t.IsAbstract() {
			return nil, true
		}
		return r.lookup(t.PossibleTypes), true
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, true
		}
		return visible(t.EnumValues, args, func(v *schema.EnumValue) bool { return v.IsDeprecated }), true
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, true
		}
		return visible(t.InputFields, args, func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	}
	return nil, false
}

// typeRefField serves a wrapped or named type reference. Named references
// answer like the type they point at.
func (r *runtime) typeRefField(ref *schema.TypeRef, field string, args map[string]any) (any, bool) {
	if ref.Kind == schema.TypeRefKindNamed {
		if def := r.schema.Types[ref.Named]; def != nil {
			return r.typeField(def, field, args)
		}
	}
	switch field {
	case "kind":
		return string(ref.Kind), true
	case "ofType":
		if ref.Kind == schema.TypeRefKindNamed {
			return nil, true
		}
		return ref.OfType, true
	case "name":
		if ref.Kind == schema.TypeRefKindNamed {
			return ref.Named, true
		}
	}
	return nil, true
}

func fieldField(f *schema.Field, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return f.Name, true
	case "description":
		return optional(f.Description), true
	case "args":
		return visible(f.Arguments, args, func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	case "type":
		return f.Type, true
	case "isDeprecated":
		return f.IsDeprecated, true
	case "deprecationReason":
		return reason(f.IsDeprecated, f.DeprecationReason), true
	}
	return nil, false
}

func inputValueField(v *schema.InputValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "type":
		return v.Type, true
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, true
		}
		return schema.FormatValue(v.DefaultValue), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func enumValueField(v *schema.EnumValue, field string) (any, bool) {
	switch field {
	case "name":
		return v.Name, true
	case "description":
		return optional(v.Description), true
	case "isDeprecated":
		return v.IsDeprecated, true
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), true
	}
	return nil, false
}

func directiveField(d *schema.Directive, field string, args map[string]any) (any, bool) {
	switch field {
	case "name":
		return d.Name, true
	case "description":
		return optional(d.Description), true
	case "isRepeatable":
		return d.IsRepeatable, true
	case "locations":
		return d.Locations, true
	case "args":
		return visible(d.Arguments, args, func(v *schema.InputValue) bool { return v.IsDeprecated }), true
	}
	return nil, false
}

// lookup returns the named types in order, skipping names the schema does
// not define.
func (r *runtime) lookup(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if t := r.schema.Types[name]; t != nil {
			out = append(out, t)
		}
	}
	return out
}

// visible drops deprecated items unless includeDeprecated is true. Order is
// declaration order.
func visible[T any](items []T, args map[string]any, deprecated func(T) bool) []T {
	include, _ := args["includeDeprecated"].(bool)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if include || !deprecated(it) {
			out = append(out, it)
		}
	}
	return out
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func reason(deprecated bool, why string) any {
	if !deprecated {
		return nil
	}
	return why
}
