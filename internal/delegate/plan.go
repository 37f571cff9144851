package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	language "github.com/hanpama/stitchgraph/internal/language"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// Reserved response keys and variables injected into sub-queries. Client
// operations may not use the prefix; see CheckReserved.
const (
	reservedPrefix = "_stitch"
	fragmentPrefix = reservedPrefix + "_"
	typenameKey    = reservedPrefix + "_typename"
	argPrefix      = reservedPrefix + "Arg"
)

// request is one planned sub-query against a source schema.
type request struct {
	desc      *registry.Descriptor
	operation language.Operation
	field     string
	key       string
	query     string
	variables map[string]any
}

func (r *request) dedupKey() string {
	vars, _ := json.Marshal(r.variables)
	return r.desc.Name() + "\x00" + r.query + "\x00" + string(vars)
}

func (rt *Runtime) plan(ctx context.Context, task executor.ResolveTask) (*request, error) {
	b := rt.unified.Binding(task.ObjectType, task.Field)
	switch b.Kind {
	case merge.Root:
		return rt.build(task, b.Owner, b.Operation, task.Field, task.Args)
	case merge.Extension:
		parent, err := fragmentParent(b.Extension, task.Source)
		if err != nil {
			return nil, &DelegationError{Field: task.ObjectType + "." + task.Field, Err: err}
		}
		d, err := resolve(ctx, b.Extension, parent, task)
		if err != nil {
			return nil, &DelegationError{Field: task.ObjectType + "." + task.Field, Err: err}
		}
		if d == nil {
			return nil, nil
		}
		desc, ok := rt.unified.Descriptor(d.Schema)
		if !ok {
			return nil, &DelegationError{Schema: d.Schema, Field: d.Field, Err: fmt.Errorf("unknown schema %q", d.Schema)}
		}
		op := d.Operation
		if op == "" {
			op = language.Query
		}
		return rt.build(task, desc, op, d.Field, d.Args)
	}
	return nil, fmt.Errorf("field %s.%s is not delegated", task.ObjectType, task.Field)
}

// resolve calls the extension's resolver, turning a panic into an error for
// this field only.
func resolve(ctx context.Context, ext *merge.FieldExtension, parent map[string]any, task executor.ResolveTask) (d *merge.Delegation, err error) {
	defer func() {
		if p := recover(); p != nil {
			d, err = nil, fmt.Errorf("resolver panic: %v", p)
		}
	}()
	return ext.Resolver(ctx, parent, task.Args, task.Info)
}

// fragmentParent collects the values injected for ext's fragment paths.
func fragmentParent(ext *merge.FieldExtension, source any) (map[string]any, error) {
	src, _ := source.(map[string]any)
	parent := make(map[string]any, len(ext.Fragment))
	for _, path := range ext.Fragment {
		seg, _, _ := strings.Cut(path, ".")
		v, ok := src[fragmentPrefix+seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s", merge.ErrMissingValue, path)
		}
		parent[seg] = v
	}
	return parent, nil
}

func (rt *Runtime) build(task executor.ResolveTask, desc *registry.Descriptor, op language.Operation, field string, args map[string]any) (*request, error) {
	fail := func(format string, a ...any) error {
		return &DelegationError{Schema: desc.Name(), Field: field, Err: fmt.Errorf(format, a...)}
	}
	target := desc.Schema()
	root := target.Types[target.RootTypeName(string(op))]
	if root == nil {
		return nil, fail("schema has no %s type", op)
	}
	fdef := root.GetField(field)
	if fdef == nil {
		return nil, fail("%s has no field %s", root.Name, field)
	}

	p := &planner{
		unified: rt.unified,
		target:  target,
		info:    task.Info,
		values:  make(map[string]any),
		used:    make(map[string]bool),
	}

	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	var arguments language.ArgumentList
	for i, name := range names {
		adef := fdef.GetArgument(name)
		if adef == nil {
			return nil, fail("%s.%s has no argument %s", root.Name, field, name)
		}
		v := argPrefix + strconv.Itoa(i)
		p.defs = append(p.defs, &language.VariableDefinition{Variable: v, Type: adef.Type.ToAST()})
		p.values[v] = args[name]
		arguments = append(arguments, &language.Argument{
			Name:  name,
			Value: &language.Value{Kind: language.Variable, Raw: v},
		})
	}

	key := task.ResponseKey()
	sel := &language.Field{Alias: key, Name: field, Arguments: arguments}
	if task.Info != nil && task.Info.ReturnType != nil {
		named := task.Info.ReturnType.GetNamedType()
		if t := rt.unified.Schema().Types[named]; t != nil && !t.IsLeaf() {
			var merged language.SelectionSet
			for _, node := range task.Info.FieldNodes {
				merged = append(merged, node.SelectionSet...)
			}
			sel.SelectionSet = p.rewrite(merged, named)
		}
	}
	p.forwardVariables()

	doc := &language.QueryDocument{Operations: language.OperationList{{
		Operation:           op,
		VariableDefinitions: p.defs,
		SelectionSet:        language.SelectionSet{sel},
	}}}
	return &request{
		desc:      desc,
		operation: op,
		field:     field,
		key:       key,
		query:     language.FormatQuery(doc),
		variables: p.values,
	}, nil
}

type planner struct {
	unified *merge.UnifiedSchema
	target  *schema.Schema
	info    *executor.ResolveInfo
	defs    language.VariableDefinitionList
	values  map[string]any
	used    map[string]bool
}

// targetName maps a unified type name to the type name in the target schema.
func (p *planner) targetName(name string) string {
	switch {
	case name == merge.QueryTypeName && p.target.QueryType != "":
		return p.target.QueryType
	case name == merge.MutationTypeName && p.target.MutationType != "":
		return p.target.MutationType
	}
	return name
}

// rewrite converts a client selection set on the unified type typeName into
// one the target schema accepts. Fields the target does not serve are left
// out, extension fields are replaced by their fragment fields and abstract
// types select their concrete type name. The result is never empty.
func (p *planner) rewrite(set language.SelectionSet, typeName string) language.SelectionSet {
	var out language.SelectionSet
	unified := p.unified.Schema().Types[typeName]
	target := p.target.Types[p.targetName(typeName)]
	if unified == nil || target == nil {
		return language.SelectionSet{typenameField()}
	}
	if unified.IsAbstract() {
		out = append(out, typenameField())
	}

	for _, sel := range set {
		switch s := sel.(type) {
		case *language.Field:
			if s.Name == "__typename" {
				out = append(out, &language.Field{Alias: s.Alias, Name: s.Name, Directives: p.directives(s.Directives)})
				continue
			}
			b := p.unified.Binding(typeName, s.Name)
			if b.Kind == merge.Extension {
				out = append(out, fragmentSelection(b.Extension.Fragment, true)...)
				continue
			}
			if b.Kind != merge.Projection {
				continue
			}
			ufield := unified.GetField(s.Name)
			if ufield == nil || target.GetField(s.Name) == nil {
				continue
			}
			p.useValues(s.Arguments)
			f := &language.Field{
				Alias:      s.Alias,
				Name:       s.Name,
				Arguments:  s.Arguments,
				Directives: p.directives(s.Directives),
			}
			if len(s.SelectionSet) > 0 {
				f.SelectionSet = p.rewrite(s.SelectionSet, ufield.Type.GetNamedType())
			}
			out = append(out, f)
		case *language.InlineFragment:
			cond := s.TypeCondition
			if cond == "" {
				cond = typeName
			}
			if p.target.Types[p.targetName(cond)] == nil {
				continue
			}
			out = append(out, &language.InlineFragment{
				TypeCondition: p.targetName(cond),
				Directives:    p.directives(s.Directives),
				SelectionSet:  p.rewrite(s.SelectionSet, cond),
			})
		case *language.FragmentSpread:
			if p.info == nil {
				continue
			}
			def := p.info.Fragments.ForName(s.Name)
			if def == nil || p.target.Types[p.targetName(def.TypeCondition)] == nil {
				continue
			}
			out = append(out, &language.InlineFragment{
				TypeCondition: p.targetName(def.TypeCondition),
				Directives:    p.directives(s.Directives),
				SelectionSet:  p.rewrite(def.SelectionSet, def.TypeCondition),
			})
		}
	}
	if len(out) == 0 {
		out = append(out, typenameField())
	}
	return out
}

func typenameField() *language.Field {
	return &language.Field{Alias: typenameKey, Name: "__typename"}
}

// fragmentSelection turns dot-separated paths into a selection set. Top-level
// fields are aliased with the fragment prefix when aliased is set.
func fragmentSelection(paths []string, aliased bool) language.SelectionSet {
	var order []string
	children := map[string][]string{}
	for _, path := range paths {
		head, rest, nested := strings.Cut(path, ".")
		if _, ok := children[head]; !ok {
			order = append(order, head)
			children[head] = nil
		}
		if nested {
			children[head] = append(children[head], rest)
		}
	}
	out := make(language.SelectionSet, 0, len(order))
	for _, name := range order {
		f := &language.Field{Name: name}
		if aliased {
			f.Alias = fragmentPrefix + name
		}
		if sub := children[name]; len(sub) > 0 {
			f.SelectionSet = fragmentSelection(sub, false)
		}
		out = append(out, f)
	}
	return out
}

// directives keeps @include and @skip, the only directives every schema
// is known to define.
func (p *planner) directives(list language.DirectiveList) language.DirectiveList {
	var out language.DirectiveList
	for _, d := range list {
		if d.Name == "include" || d.Name == "skip" {
			p.useValues(d.Arguments)
			out = append(out, d)
		}
	}
	return out
}

func (p *planner) useValues(args language.ArgumentList) {
	for _, a := range args {
		p.useValue(a.Value)
	}
}

func (p *planner) useValue(v *language.Value) {
	if v == nil {
		return
	}
	if v.Kind == language.Variable {
		p.used[v.Raw] = true
		return
	}
	for _, c := range v.Children {
		p.useValue(c.Value)
	}
}

// forwardVariables declares the client variables referenced by the rewritten
// selections, with their coerced values.
func (p *planner) forwardVariables() {
	if p.info == nil || p.info.Operation == nil {
		return
	}
	names := make([]string, 0, len(p.used))
	for name := range p.used {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := p.info.Operation.VariableDefinitions.ForName(name)
		if def == nil {
			continue
		}
		p.defs = append(p.defs, &language.VariableDefinition{
			Variable:     def.Variable,
			Type:         def.Type,
			DefaultValue: def.DefaultValue,
		})
		if v, ok := p.info.Variables[name]; ok {
			p.values[name] = v
		}
	}
}
