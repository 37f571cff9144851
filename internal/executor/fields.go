package executor

import (
	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// collectedField is every AST field sharing one response name, in document
// order.
type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

// collectFields groups the selections of set that apply to objectType,
// honouring @skip, @include and fragment type conditions.
func (r *run) collectFields(objectType *schema.Type, set language.SelectionSet) []collectedField {
	c := &collector{run: r, objectType: objectType, index: map[string]int{}, visited: map[string]bool{}}
	c.collect(set)
	return c.groups
}

type collector struct {
	run        *run
	objectType *schema.Type
	groups     []collectedField
	index      map[string]int
	visited    map[string]bool
}

func (c *collector) collect(set language.SelectionSet) {
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			if !c.run.included(sel.Directives) {
				continue
			}
			name := sel.Alias
			if name == "" {
				name = sel.Name
			}
			if i, ok := c.index[name]; ok {
				c.groups[i].Fields = append(c.groups[i].Fields, sel)
				continue
			}
			c.index[name] = len(c.groups)
			c.groups = append(c.groups, collectedField{ResponseName: name, Fields: []*language.Field{sel}})
		case *language.InlineFragment:
			if c.run.included(sel.Directives) && c.applies(sel.TypeCondition) {
				c.collect(sel.SelectionSet)
			}
		case *language.FragmentSpread:
			if !c.run.included(sel.Directives) || c.visited[sel.Name] {
				continue
			}
			c.visited[sel.Name] = true
			if c.run.document == nil {
				continue
			}
			def := c.run.document.Fragments.ForName(sel.Name)
			if def == nil || !c.applies(def.TypeCondition) || !c.run.included(def.Directives) {
				continue
			}
			c.collect(def.SelectionSet)
		}
	}
}

// applies reports whether a fragment on condition selects on the object type.
func (c *collector) applies(condition string) bool {
	if condition == "" || condition == c.objectType.Name {
		return true
	}
	return c.run.schema != nil && c.run.schema.IsPossibleType(condition, c.objectType.Name)
}

// included evaluates @skip(if:) and @include(if:).
func (r *run) included(directives language.DirectiveList) bool {
	if d := directives.ForName("skip"); d != nil {
		if v, _ := r.directiveArg(d, "if").(bool); v {
			return false
		}
	}
	if d := directives.ForName("include"); d != nil {
		if v, ok := r.directiveArg(d, "if").(bool); ok && !v {
			return false
		}
	}
	return true
}

func (r *run) directiveArg(d *language.Directive, name string) any {
	if arg := d.Arguments.ForName(name); arg != nil {
		return valueFromAST(arg.Value, r.variables)
	}
	return nil
}
