package executor

import (
	"context"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// Runtime defines the host integration surface for field resolution, batching,
// abstract type resolution, and leaf-value serialization used by the Executor.
//
// General contract
//   - The Executor performs a breadth-first execution. At each depth it drains all
//     synchronous fields first via ResolveSync, then calls BatchResolveAsync ONCE
//     with all async tasks collected at that depth. The next depth does not begin
//     until BatchResolveAsync returns and those results are completed.
//   - ResolveSync is never invoked for fields marked async, and BatchResolveAsync
//     is only invoked when there is at least one async field at the current depth.
//   - Errors returned from any method are converted into located GraphQL errors.
//     An error exposing Extensions() map[string]any keeps those extensions.
//     If the field's return type is Non-Null, the null propagates up.
//   - Implementations must be safe for concurrent use by different operations
//     and must not mutate task sources or arguments.
//
// Tasks carry a ResolveInfo describing the field's place in the operation, so
// runtimes that forward work elsewhere (a remote service, another schema) can
// rebuild the selection below the field.
//
// Partial success and determinism
//   - BatchResolveAsync must return one ResolveResult per task, in task order.
//     Each result is independent; failures in one do not affect others.
//   - A result may carry a value together with nested errors. Those errors have
//     paths relative to the task's field and are relocated under it.
//
// Cancellation
//   - The Executor filters out tasks whose response paths were nullified by a
//     Non-Null violation, so BatchResolveAsync receives only live tasks.
//     Implementations respect ctx for everything else.
type Runtime interface {
	// ResolveSync resolves a synchronous field value immediately.
	// Return (nil, nil) to produce a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, task ResolveTask) (any, error)

	// BatchResolveAsync resolves one execution depth of async field tasks.
	//
	// Requirements:
	// - Return len(results) == len(tasks).
	// - results[i] corresponds to tasks[i].
	// - Return independent errors per element without failing the whole batch.
	BatchResolveAsync(ctx context.Context, tasks []ResolveTask) []ResolveResult

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union).
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value. For enums, return the symbolic name as string.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

type ResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (nil for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Info describes the field occurrence. It may be nil in hand-built tasks.
	Info *ResolveInfo
}

// ResolveInfo describes where a field sits in the executing operation.
type ResolveInfo struct {
	FieldName    string
	ResponseName string
	Path         Path
	ParentType   *schema.Type
	ReturnType   *schema.TypeRef
	// FieldNodes are all AST fields merged under ResponseName.
	FieldNodes []*language.Field
	Operation  *language.OperationDefinition
	Fragments  language.FragmentDefinitionList
	// Variables are the coerced operation variables.
	Variables map[string]any
}

// ResponseKey returns the response name, falling back to the field name when
// info is nil.
func (t ResolveTask) ResponseKey() string {
	if t.Info != nil && t.Info.ResponseName != "" {
		return t.Info.ResponseName
	}
	return t.Field
}

type ResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
	// Errors are nested errors accompanying Value, with paths relative to the
	// task's field.
	Errors []GraphQLError
}
