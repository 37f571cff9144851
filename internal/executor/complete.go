package executor

import (
	"fmt"
	"reflect"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// completeValue shapes a resolved value to typ. A nil return means null; any
// Non-Null violation has been recorded as an error at path.
func (r *run) completeValue(typ *schema.TypeRef, fields []*language.Field, value any, path Path, bubble Path) any {
	if schema.IsNonNull(typ) {
		if isNullish(value) {
			if !r.hasErrorAt(path) {
				r.addError("Cannot return null for non-nullable field "+formatPath(path), path)
			}
			return nil
		}
		return r.completeValue(schema.Unwrap(typ), fields, value, path, bubble)
	}
	if isNullish(value) {
		return nil
	}
	if schema.IsList(typ) {
		return r.completeList(typ, fields, value, path, bubble)
	}

	name := schema.GetNamedType(typ)
	t := r.schema.Types[name]
	if t == nil {
		r.addError("Unknown type: "+name, path)
		return nil
	}
	switch t.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		out, err := r.runtime.SerializeLeafValue(r.ctx, name, value)
		if err != nil {
			r.errors = append(r.errors, NewError(err, path))
			return nil
		}
		return out
	case schema.TypeKindObject:
		return r.completeObject(t, fields, value, path, bubble)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		concrete, err := r.runtime.ResolveType(r.ctx, name, value)
		if err != nil {
			r.errors = append(r.errors, NewError(err, path))
			return nil
		}
		ct := r.schema.Types[concrete]
		if ct == nil || ct.Kind != schema.TypeKindObject {
			r.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", name, concrete), path)
			return nil
		}
		return r.completeObject(ct, fields, value, path, bubble)
	}
	r.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", t.Kind), path)
	return nil
}

func (r *run) completeList(typ *schema.TypeRef, fields []*language.Field, value any, path Path, bubble Path) any {
	items, ok := value.([]any)
	if !ok {
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			r.addError(fmt.Sprintf("Expected list value, got %T", value), path)
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := schema.Unwrap(typ)
	itemsNullable := !schema.IsNonNull(inner)
	out := make([]any, len(items))
	for i, item := range items {
		itemPath := appendPath(path, i)
		itemBubble := bubble
		if itemsNullable {
			itemBubble = itemPath
		}
		v := r.completeValue(inner, fields, item, itemPath, itemBubble)
		if isNullish(v) {
			if !itemsNullable {
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}

func (r *run) completeObject(t *schema.Type, fields []*language.Field, value any, path Path, bubble Path) any {
	var set language.SelectionSet
	for _, f := range fields {
		set = append(set, f.SelectionSet...)
	}
	return r.executeSelectionSet(t, set, value, path, bubble)
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
