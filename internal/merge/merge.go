// Package merge combines source schemas and field extensions into the single
// schema a gateway serves.
package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	language "github.com/hanpama/stitchgraph/internal/language"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// Root type names of every unified schema.
const (
	QueryTypeName    = "Query"
	MutationTypeName = "Mutation"
)

// BindingKind says how a field of the unified schema is resolved.
type BindingKind int

const (
	// Projection fields are read from the parent value returned by a source schema.
	Projection BindingKind = iota
	// Root fields are delegated to the source schema that defines them.
	Root
	// Extension fields are delegated through their DelegationResolver.
	Extension
)

func (k BindingKind) String() string {
	switch k {
	case Root:
		return "root"
	case Extension:
		return "extension"
	}
	return "projection"
}

// Binding is fixed for each field when the schemas are merged.
type Binding struct {
	Kind BindingKind
	// Owner and Operation are set for Root bindings.
	Owner     *registry.Descriptor
	Operation language.Operation
	// Extension is set for Extension bindings.
	Extension *FieldExtension
}

// UnifiedSchema is the read-only result of Merge.
type UnifiedSchema struct {
	schema      *schema.Schema
	validation  *language.Schema
	bindings    map[string]Binding
	descriptors []*registry.Descriptor
	byName      map[string]*registry.Descriptor
	extensions  []*FieldExtension
}

func (u *UnifiedSchema) Schema() *schema.Schema              { return u.schema }
func (u *UnifiedSchema) Validation() *language.Schema        { return u.validation }
func (u *UnifiedSchema) Descriptors() []*registry.Descriptor { return append([]*registry.Descriptor(nil), u.descriptors...) }
func (u *UnifiedSchema) Extensions() []*FieldExtension       { return append([]*FieldExtension(nil), u.extensions...) }
func (u *UnifiedSchema) SDL() string                         { return schema.Render(u.schema) }

// Binding returns how typeName.fieldName resolves. Fields that are neither
// root nor extension fields are projections.
func (u *UnifiedSchema) Binding(typeName, fieldName string) Binding {
	return u.bindings[typeName+"."+fieldName]
}

// Descriptor returns the source schema registered under name.
func (u *UnifiedSchema) Descriptor(name string) (*registry.Descriptor, bool) {
	d, ok := u.byName[name]
	return d, ok
}

// Merge builds the unified schema.
//
// Descriptors are merged once each even when listed repeatedly. Non-root
// types with the same name must have the same shape. Query and mutation root
// fields of all schemas are gathered into Query and Mutation, whatever the
// source root types are called; subscription roots are ignored. Extensions
// are then attached to their target types.
func Merge(descriptors []*registry.Descriptor, extensions []*FieldExtension) (*UnifiedSchema, error) {
	m := &merger{
		types:    make(map[string]*schema.Type),
		owners:   make(map[string][]string),
		bindings: make(map[string]Binding),
		byName:   make(map[string]*registry.Descriptor),
		dirs:     make(map[string]*schema.Directive),
	}
	if err := m.addDescriptors(descriptors); err != nil {
		return nil, err
	}
	if len(m.descriptors) == 0 {
		return nil, errors.New("merge: no schemas to merge")
	}
	for _, d := range m.descriptors {
		if err := m.mergeTypes(d); err != nil {
			return nil, err
		}
	}
	if err := m.mergeRoots(); err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		if err := m.applyExtension(ext); err != nil {
			return nil, err
		}
	}
	return m.build()
}

type merger struct {
	descriptors []*registry.Descriptor
	byName      map[string]*registry.Descriptor
	types       map[string]*schema.Type
	owners      map[string][]string
	bindings    map[string]Binding
	dirs        map[string]*schema.Directive
	extensions  []*FieldExtension
	query       *schema.Type
	mutation    *schema.Type
}

func (m *merger) addDescriptors(descriptors []*registry.Descriptor) error {
	seen := make(map[*registry.Descriptor]bool)
	for _, d := range descriptors {
		if d == nil || seen[d] {
			continue
		}
		seen[d] = true
		if _, ok := m.byName[d.Name()]; ok {
			return &DuplicateSchemaError{Name: d.Name()}
		}
		m.byName[d.Name()] = d
		m.descriptors = append(m.descriptors, d)
	}
	return nil
}

// rootRenames maps the source root type names of s to the unified ones.
func rootRenames(s *schema.Schema) map[string]string {
	renames := map[string]string{}
	if s.QueryType != "" {
		renames[s.QueryType] = QueryTypeName
	}
	if s.MutationType != "" {
		renames[s.MutationType] = MutationTypeName
	}
	return renames
}

func (m *merger) mergeTypes(d *registry.Descriptor) error {
	s := d.Schema()
	renames := rootRenames(s)
	names := make([]string, 0, len(s.Types))
	for name := range s.Types {
		if strings.HasPrefix(name, "__") || s.IsRootType(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := copyType(s.Types[name], renames)
		if name == QueryTypeName || name == MutationTypeName {
			return &TypeCollisionError{
				TypeName: name,
				Schemas:  []string{d.Name()},
				Reason:   "the name is reserved for the unified root type",
			}
		}
		existing, ok := m.types[name]
		if !ok {
			m.types[name] = t
			m.owners[name] = []string{d.Name()}
			continue
		}
		if reason := incompatibility(existing, t); reason != "" {
			return &TypeCollisionError{
				TypeName: name,
				Schemas:  append(append([]string(nil), m.owners[name]...), d.Name()),
				Reason:   reason,
			}
		}
		if existing.Kind == schema.TypeKindInterface {
			for _, pt := range t.PossibleTypes {
				if !contains(existing.PossibleTypes, pt) {
					existing.AddPossibleType(pt)
				}
			}
		}
		m.owners[name] = append(m.owners[name], d.Name())
	}

	for name, dir := range s.Directives {
		if schema.IsBuiltinDirective(name) {
			continue
		}
		if _, ok := m.dirs[name]; !ok {
			m.dirs[name] = dir
		}
	}
	return nil
}

// copyType returns a copy of t with fresh fields, so bindings can be set on the
// unified schema without touching the source schema.
func copyType(t *schema.Type, renames map[string]string) *schema.Type {
	c := t.Clone()
	for i, f := range c.Fields {
		nf := *f
		nf.Async = false
		nf.Type = renameRef(f.Type, renames)
		c.Fields[i] = &nf
	}
	return c
}

func renameRef(ref *schema.TypeRef, renames map[string]string) *schema.TypeRef {
	if ref == nil {
		return nil
	}
	switch ref.Kind {
	case schema.TypeRefKindNonNull:
		return schema.NonNullType(renameRef(ref.OfType, renames))
	case schema.TypeRefKindList:
		return schema.ListType(renameRef(ref.OfType, renames))
	}
	if to, ok := renames[ref.Named]; ok {
		return schema.NamedType(to)
	}
	return ref
}

func (m *merger) mergeRoots() error {
	m.query = schema.NewType(QueryTypeName, schema.TypeKindObject, "")
	m.mutation = schema.NewType(MutationTypeName, schema.TypeKindObject, "")
	owners := map[string]*registry.Descriptor{}

	for _, d := range m.descriptors {
		s := d.Schema()
		renames := rootRenames(s)
		roots := []struct {
			op     language.Operation
			source *schema.Type
			target *schema.Type
		}{
			{language.Query, s.GetQueryType(), m.query},
			{language.Mutation, s.GetMutationType(), m.mutation},
		}
		for _, r := range roots {
			if r.source == nil {
				continue
			}
			for _, f := range r.source.Fields {
				if strings.HasPrefix(f.Name, "__") {
					continue
				}
				key := r.target.Name + "." + f.Name
				if prev, ok := owners[key]; ok {
					return &RootFieldCollisionError{
						Operation: string(r.op),
						Field:     f.Name,
						Schemas:   []string{prev.Name(), d.Name()},
					}
				}
				owners[key] = d
				nf := *f
				nf.Async = true
				nf.Type = renameRef(f.Type, renames)
				r.target.AddField(&nf)
				m.bindings[key] = Binding{Kind: Root, Owner: d, Operation: r.op}
			}
		}
	}

	m.types[QueryTypeName] = m.query
	if len(m.mutation.Fields) > 0 {
		m.types[MutationTypeName] = m.mutation
	}
	return nil
}

func (m *merger) typeExists(name string) bool {
	return m.types[name] != nil || schema.IsBuiltinScalar(name)
}

func (m *merger) applyExtension(ext *FieldExtension) error {
	if ext == nil {
		return nil
	}
	if ext.TypeName == "" || ext.FieldName == "" {
		return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: "type and field names are required"}
	}
	target := m.types[ext.TypeName]
	if target == nil {
		return &UnknownExtensionTargetError{TypeName: ext.TypeName, FieldName: ext.FieldName, Kind: "type", Missing: ext.TypeName}
	}
	if target.Kind != schema.TypeKindObject {
		return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: fmt.Sprintf("cannot extend %s type", target.Kind)}
	}
	if ext.Resolver == nil {
		return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: "no delegation resolver"}
	}
	if ext.Type == nil {
		return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: "no return type"}
	}
	ret := ext.Type.GetNamedType()
	if !m.typeExists(ret) {
		return &UnknownExtensionTargetError{TypeName: ext.TypeName, FieldName: ext.FieldName, Kind: "return type", Missing: ret}
	}
	if t := m.types[ret]; t != nil && t.Kind == schema.TypeKindInputObject {
		return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: fmt.Sprintf("return type %s is an input type", ret)}
	}
	for _, arg := range ext.Arguments {
		name := arg.Type.GetNamedType()
		if !m.typeExists(name) {
			return &UnknownExtensionTargetError{TypeName: ext.TypeName, FieldName: ext.FieldName, Kind: "argument type", Missing: name}
		}
		if t := m.types[name]; t != nil && (t.Kind == schema.TypeKindObject || t.Kind == schema.TypeKindInterface || t.Kind == schema.TypeKindUnion) {
			return &InvalidExtensionError{TypeName: ext.TypeName, FieldName: ext.FieldName, Reason: fmt.Sprintf("argument %s has output type %s", arg.Name, name)}
		}
	}
	if target.GetField(ext.FieldName) != nil {
		return &TypeCollisionError{
			TypeName: ext.TypeName,
			Schemas:  m.owners[ext.TypeName],
			Reason:   fmt.Sprintf("extension field %s is already defined", ext.FieldName),
		}
	}
	if err := m.checkFragment(target, ext); err != nil {
		return err
	}

	target.AddField(&schema.Field{
		Name:        ext.FieldName,
		Description: ext.Description,
		Type:        ext.Type,
		Arguments:   ext.Arguments,
		Async:       true,
	})
	m.bindings[ext.TypeName+"."+ext.FieldName] = Binding{Kind: Extension, Extension: ext}
	m.extensions = append(m.extensions, ext)
	return nil
}

// checkFragment verifies that every fragment path walks source-owned fields
// of the target and ends at a leaf.
func (m *merger) checkFragment(target *schema.Type, ext *FieldExtension) error {
	fail := func(path, reason string) error {
		return &InvalidFragmentError{TypeName: ext.TypeName, FieldName: ext.FieldName, Path: path, Reason: reason}
	}
	if len(ext.Fragment) > 0 && (target == m.query || target == m.mutation) {
		return fail(ext.Fragment[0], "cannot be read from a root type")
	}
	for _, path := range ext.Fragment {
		cur := target
		segs := strings.Split(path, ".")
		for i, seg := range segs {
			f := cur.GetField(seg)
			if f == nil {
				return fail(path, fmt.Sprintf("names unknown field %s.%s", cur.Name, seg))
			}
			if b := m.bindings[cur.Name+"."+seg]; b.Kind == Extension {
				return fail(path, fmt.Sprintf("names extension field %s.%s", cur.Name, seg))
			}
			if len(f.Arguments) > 0 {
				for _, a := range f.Arguments {
					if schema.IsNonNull(a.Type) && a.DefaultValue == nil {
						return fail(path, fmt.Sprintf("field %s.%s needs argument %s", cur.Name, seg, a.Name))
					}
				}
			}
			next := m.types[f.Type.GetNamedType()]
			leaf := next == nil || next.IsLeaf()
			if i == len(segs)-1 {
				if !leaf {
					return fail(path, fmt.Sprintf("ends at non-leaf field %s.%s", cur.Name, seg))
				}
				break
			}
			if leaf || next.Kind != schema.TypeKindObject {
				return fail(path, fmt.Sprintf("continues past field %s.%s", cur.Name, seg))
			}
			cur = next
		}
	}
	return nil
}

func (m *merger) build() (*UnifiedSchema, error) {
	s := schema.NewSchema("")
	s.SetQueryType(QueryTypeName)
	if _, ok := m.types[MutationTypeName]; ok {
		s.SetMutationType(MutationTypeName)
	}
	for _, t := range m.types {
		s.AddType(t)
	}
	for _, d := range m.dirs {
		s.AddDirective(d)
	}

	validation, err := language.LoadSchema("unified.graphql", schema.Render(s))
	if err != nil {
		return nil, fmt.Errorf("merged schema is invalid: %w", err)
	}
	return &UnifiedSchema{
		schema:      s,
		validation:  validation,
		bindings:    m.bindings,
		descriptors: m.descriptors,
		byName:      m.byName,
		extensions:  m.extensions,
	}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
