package introspection

import (
	"maps"

	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// extend returns a copy of sch that also declares the introspection types
// and the __schema and __type meta fields on its query type. sch itself is
// left unchanged.
func extend(sch *schema.Schema) *schema.Schema {
	out := *sch
	out.Types = maps.Clone(sch.Types)
	if out.Types == nil {
		out.Types = make(map[string]*schema.Type)
	}
	for _, t := range schema.IntrospectionTypes() {
		out.Types[t.Name] = t
	}
	if q := sch.GetQueryType(); q != nil {
		q = q.Clone()
		q.AddField(schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))))
		q.AddField(schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))))
		out.Types[q.Name] = q
	}
	return &out
}
