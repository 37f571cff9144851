package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// ErrMissingValue is returned by a resolver built with DelegateTo when a
// referenced parent value is absent.
var ErrMissingValue = errors.New("missing delegation input")

// FieldExtension adds a field to an existing type of the unified schema. The
// field is resolved by delegating to another schema once the Fragment paths
// have been read from the parent object.
type FieldExtension struct {
	TypeName    string
	FieldName   string
	Description string
	Type        *schema.TypeRef
	Arguments   []*schema.InputValue
	// Fragment lists the parent fields the resolver needs, as dot-separated
	// paths such as "authorId" or "profile.id".
	Fragment []string
	Resolver DelegationResolver
}

// Delegation names the root field of a source schema that resolves an
// extended field, and the arguments to call it with.
type Delegation struct {
	Schema    string
	Operation language.Operation
	Field     string
	Args      map[string]any
}

// DelegationResolver computes the delegation for one extended field value.
// parent holds the fragment values keyed by path segment; it must not be
// modified.
type DelegationResolver func(ctx context.Context, parent map[string]any, args map[string]any, info *executor.ResolveInfo) (*Delegation, error)

const (
	parentRef = "$parent."
	argsRef   = "$args."
)

// DelegateTo returns a resolver delegating to the query field of the schema
// named schemaName. Values in argMap are passed literally, except strings of
// the form "$parent.<path>" and "$args.<name>", which are read from the
// parent fragment values and the field arguments. Maps and lists are
// resolved recursively. A referenced argument that was not supplied is left
// out.
func DelegateTo(schemaName, field string, argMap map[string]any) DelegationResolver {
	return func(ctx context.Context, parent map[string]any, args map[string]any, _ *executor.ResolveInfo) (*Delegation, error) {
		out := make(map[string]any, len(argMap))
		for name, ref := range argMap {
			v, ok, err := resolveRef(ref, parent, args)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", name, err)
			}
			if ok {
				out[name] = v
			}
		}
		return &Delegation{Schema: schemaName, Operation: language.Query, Field: field, Args: out}, nil
	}
}

func resolveRef(ref any, parent, args map[string]any) (any, bool, error) {
	switch v := ref.(type) {
	case string:
		switch {
		case strings.HasPrefix(v, parentRef):
			path := strings.TrimPrefix(v, parentRef)
			val, ok := lookupPath(parent, path)
			if !ok {
				return nil, false, fmt.Errorf("%w: $parent.%s", ErrMissingValue, path)
			}
			return val, true, nil
		case strings.HasPrefix(v, argsRef):
			val, ok := args[strings.TrimPrefix(v, argsRef)]
			return val, ok, nil
		}
		return v, true, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			val, ok, err := resolveRef(item, parent, args)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out[k] = val
			}
		}
		return out, true, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			val, ok, err := resolveRef(item, parent, args)
			if err != nil {
				return nil, false, err
			}
			if ok {
				out = append(out, val)
			}
		}
		return out, true, nil
	}
	return ref, true, nil
}

func lookupPath(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// ParseFragment converts a selection such as "{ authorId }" or
// "... on Chirp { author { id } }" into field paths.
func ParseFragment(fragment string) ([]string, error) {
	src := strings.TrimSpace(fragment)
	if src == "" {
		return nil, nil
	}
	if strings.HasPrefix(src, "fragment ") {
		// "fragment X on T { ... }" and "... on T { ... }" select the same fields.
		if i := strings.Index(src, " on "); i >= 0 {
			src = "..." + src[i:]
		}
	}
	if !strings.HasPrefix(src, "{") {
		src = "{ " + src + " }"
	}
	doc, err := language.ParseQuery(src)
	if err != nil {
		return nil, fmt.Errorf("parse fragment %q: %w", fragment, err)
	}
	if len(doc.Operations) != 1 || len(doc.Fragments) != 0 {
		return nil, fmt.Errorf("parse fragment %q: expected a single selection set", fragment)
	}
	var paths []string
	if err := collectPaths(doc.Operations[0].SelectionSet, "", &paths); err != nil {
		return nil, fmt.Errorf("parse fragment %q: %w", fragment, err)
	}
	return paths, nil
}

func collectPaths(set language.SelectionSet, prefix string, out *[]string) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Alias != "" && s.Alias != s.Name {
				return fmt.Errorf("aliases are not supported")
			}
			if len(s.Arguments) > 0 {
				return fmt.Errorf("arguments are not supported")
			}
			path := prefix + s.Name
			if len(s.SelectionSet) == 0 {
				*out = append(*out, path)
				continue
			}
			if err := collectPaths(s.SelectionSet, path+".", out); err != nil {
				return err
			}
		case *language.InlineFragment:
			if err := collectPaths(s.SelectionSet, prefix, out); err != nil {
				return err
			}
		default:
			return fmt.Errorf("fragment spreads are not supported")
		}
	}
	return nil
}

// ParseExtensionSDL reads "extend type" declarations into extensions without
// fragments or resolvers.
func ParseExtensionSDL(name, sdl string) ([]*FieldExtension, error) {
	doc, err := language.ParseSchema(name, sdl)
	if err != nil {
		return nil, err
	}
	if len(doc.Definitions) > 0 {
		return nil, &InvalidExtensionError{TypeName: doc.Definitions[0].Name, Reason: "type definitions may only extend existing types"}
	}
	var exts []*FieldExtension
	for _, def := range doc.Extensions {
		if def.Kind != language.Object {
			return nil, &InvalidExtensionError{TypeName: def.Name, Reason: "only object types can be extended"}
		}
		for _, fd := range def.Fields {
			ext := &FieldExtension{
				TypeName:    def.Name,
				FieldName:   fd.Name,
				Description: fd.Description,
				Type:        schema.TypeRefFromAST(fd.Type),
			}
			for _, arg := range fd.Arguments {
				iv := schema.NewInputValue(arg.Name, arg.Description, schema.TypeRefFromAST(arg.Type))
				if arg.DefaultValue != nil {
					v, err := schema.ValueFromAST(arg.DefaultValue)
					if err != nil {
						return nil, fmt.Errorf("%s.%s(%s): %w", def.Name, fd.Name, arg.Name, err)
					}
					iv.SetDefault(v)
				}
				ext.Arguments = append(ext.Arguments, iv)
			}
			exts = append(exts, ext)
		}
	}
	return exts, nil
}
