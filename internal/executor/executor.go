package executor

import (
	"context"
	"fmt"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

type Path []PathElement

// PathElement is a response key (string) or a list index (int).
type PathElement any

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// run is the state of one operation execution.
type run struct {
	ctx       context.Context
	runtime   Runtime
	schema    *schema.Schema
	document  *language.QueryDocument
	operation *language.OperationDefinition
	variables map[string]any

	data    map[string]any
	errors  []GraphQLError
	pending []pendingField
}

// pendingField is an async field waiting for the next batch.
type pendingField struct {
	task   ResolveTask
	path   Path
	typ    *schema.TypeRef
	fields []*language.Field
	// bubble is the nearest nullable position at or above path.
	bubble Path
}

// ExecuteRequest runs the selected operation of document. Async fields are
// resolved depth by depth; between depths the context is checked and a
// cancelled operation stops with its partial data.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation := selectOperation(document, operationName)
	if operation == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: "operation not found"}}}
	}
	variables, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}
	rootType, err := e.rootType(operation.Operation)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	r := &run{
		ctx:       ctx,
		runtime:   e.runtime,
		schema:    e.schema,
		document:  document,
		operation: operation,
		variables: variables,
		errors:    []GraphQLError{},
	}
	r.data = r.executeSelectionSet(rootType, operation.SelectionSet, initialValue, Path{}, nil)
	if r.data == nil {
		r.data = map[string]any{}
	}
	for len(r.pending) > 0 {
		if err := ctx.Err(); err != nil {
			r.abandon(err)
			break
		}
		r.flush()
	}
	return &ExecutionResult{Data: r.data, Errors: r.errors}
}

func (e *Executor) rootType(op language.Operation) (*schema.Type, error) {
	var t *schema.Type
	switch op {
	case language.Query:
		t = e.schema.GetQueryType()
	case language.Mutation:
		t = e.schema.GetMutationType()
	case language.Subscription:
		t = e.schema.GetSubscriptionType()
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", op)
	}
	if t == nil {
		return nil, fmt.Errorf("root type not found for %s operation", op)
	}
	return t, nil
}

// executeSelectionSet completes the fields of one object value. It returns
// nil when a Non-Null field of the object came back null. bubble is the
// nearest nullable position at or above path; nil at the root.
func (r *run) executeSelectionSet(objectType *schema.Type, set language.SelectionSet, source any, path Path, bubble Path) map[string]any {
	out := make(map[string]any)
	for _, group := range r.collectFields(objectType, set) {
		fieldPath := appendPath(path, group.ResponseName)
		first := group.Fields[0]
		if first.Name == "__typename" {
			out[group.ResponseName] = objectType.Name
			continue
		}
		def := objectType.GetField(first.Name)
		if def == nil {
			r.addError(fmt.Sprintf("Cannot query field '%s' on type '%s'", first.Name, objectType.Name), fieldPath)
			continue
		}

		fieldBubble := bubble
		if !schema.IsNonNull(def.Type) || len(path) == 0 {
			// Root fields are their own boundary; data itself is never nulled.
			fieldBubble = fieldPath
		}
		task := ResolveTask{
			ObjectType: objectType.Name,
			Field:      def.Name,
			Source:     source,
			Args:       r.coerceArguments(def, first.Arguments, fieldPath),
			Info:       r.resolveInfo(objectType, def, group, fieldPath),
		}
		if def.Async {
			r.pending = append(r.pending, pendingField{task: task, path: fieldPath, typ: def.Type, fields: group.Fields, bubble: fieldBubble})
			continue
		}

		value, err := r.runtime.ResolveSync(r.ctx, task)
		if err != nil {
			r.errors = append(r.errors, NewError(err, fieldPath))
			value = nil
		}
		completed := r.completeValue(def.Type, group.Fields, value, fieldPath, fieldBubble)
		if isNullish(completed) {
			if schema.IsNonNull(def.Type) && len(path) > 0 {
				return nil
			}
			completed = nil
		}
		out[group.ResponseName] = completed
	}
	return out
}

// flush resolves one depth of async fields and writes the results. Fields
// whose parent object was discarded since they were queued are dropped.
func (r *run) flush() {
	batch := make([]pendingField, 0, len(r.pending))
	for _, p := range r.pending {
		if r.reachable(p.path) {
			batch = append(batch, p)
		}
	}
	r.pending = nil
	if len(batch) == 0 {
		return
	}

	tasks := make([]ResolveTask, len(batch))
	for i, p := range batch {
		tasks[i] = p.task
	}
	results := r.runtime.BatchResolveAsync(r.ctx, tasks)
	for i, p := range batch {
		var res ResolveResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Error = fmt.Errorf("no result for field %s.%s", p.task.ObjectType, p.task.Field)
		}
		r.complete(p, res)
	}
}

// complete writes one async result into the response.
func (r *run) complete(p pendingField, res ResolveResult) {
	if !r.reachable(p.path) {
		return
	}
	for _, nested := range res.Errors {
		nested.Path = append(append(Path{}, p.path...), nested.Path...)
		r.errors = append(r.errors, nested)
	}

	var completed any
	if res.Error != nil {
		r.errors = append(r.errors, NewError(res.Error, p.path))
	} else {
		completed = r.completeValue(p.typ, p.fields, res.Value, p.path, p.bubble)
	}
	if isNullish(completed) {
		if schema.IsNonNull(p.typ) {
			r.nullify(p.bubble)
			return
		}
		completed = nil
	}
	setValueAtPath(r.data, p.path, completed)
}

// abandon fails every pending field after the context ended.
func (r *run) abandon(err error) {
	for _, p := range r.pending {
		r.complete(p, ResolveResult{Error: err})
	}
	r.pending = nil
}

// nullify sets the value at path to null, which discards pending work below it.
func (r *run) nullify(path Path) {
	setValueAtPath(r.data, path, nil)
}

// reachable reports whether the parent of path is still a live object in
// the response.
func (r *run) reachable(path Path) bool {
	var cur any = r.data
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			cur = m[e]
		case int:
			list, ok := cur.([]any)
			if !ok || e < 0 || e >= len(list) {
				return false
			}
			cur = list[e]
		}
	}
	_, ok := cur.(map[string]any)
	return ok
}

func (r *run) addError(message string, path Path) {
	r.errors = append(r.errors, GraphQLError{Message: message, Path: path})
}

func (r *run) hasErrorAt(path Path) bool {
	key := formatPath(path)
	for _, e := range r.errors {
		if formatPath(e.Path) == key {
			return true
		}
	}
	return false
}

func (r *run) resolveInfo(parent *schema.Type, def *schema.Field, group collectedField, path Path) *ResolveInfo {
	info := &ResolveInfo{
		FieldName:    def.Name,
		ResponseName: group.ResponseName,
		Path:         path,
		ParentType:   parent,
		ReturnType:   def.Type,
		FieldNodes:   group.Fields,
		Operation:    r.operation,
		Variables:    r.variables,
	}
	if r.document != nil {
		info.Fragments = r.document.Fragments
	}
	return info
}

func selectOperation(document *language.QueryDocument, name string) *language.OperationDefinition {
	if name == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0]
		}
		return nil
	}
	return document.Operations.ForName(name)
}
