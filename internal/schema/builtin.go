package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hanpama/stitchgraph/internal/language"
)

// prelude holds the definitions gqlparser declares for every schema. They
// are converted once and shared by all built schemas, so callers must not
// mutate them.
type prelude struct {
	scalars       map[string]*Type
	directives    map[string]*Directive
	introspection []*Type
}

var loadPrelude = sync.OnceValue(func() *prelude {
	doc, err := language.LoadSchema("prelude.graphql", "type Query { _: Boolean }")
	if err != nil {
		panic(fmt.Sprintf("schema: load prelude: %v", err))
	}
	p := &prelude{
		scalars:    make(map[string]*Type),
		directives: make(map[string]*Directive),
	}
	for name, def := range doc.Types {
		switch {
		case IsBuiltinScalar(name):
			p.scalars[name] = buildDefinition(doc, def)
		case strings.HasPrefix(name, "__"):
			p.introspection = append(p.introspection, buildDefinition(doc, def))
		}
	}
	sort.Slice(p.introspection, func(i, j int) bool { return p.introspection[i].Name < p.introspection[j].Name })
	for _, name := range executableDirectives {
		p.directives[name] = buildDirective(doc.Directives[name])
	}
	return p
})

// executableDirectives are carried by every schema so operations using them
// validate and execute.
var executableDirectives = []string{"include", "skip"}

// Builtin returns the shared definition of a specified scalar, or nil.
func Builtin(name string) *Type { return loadPrelude().scalars[name] }

// IntrospectionTypes returns the __Schema, __Type and related meta types in
// name order.
func IntrospectionTypes() []*Type { return loadPrelude().introspection }

// IsBuiltinScalar reports whether name is one of the five specified scalars.
func IsBuiltinScalar(name string) bool {
	switch name {
	case "String", "Int", "Float", "Boolean", "ID":
		return true
	}
	return false
}

// IsBuiltinDirective reports whether name is declared by the GraphQL prelude.
func IsBuiltinDirective(name string) bool {
	switch name {
	case "include", "skip", "deprecated", "specifiedBy", "oneOf", "defer":
		return true
	}
	return false
}
