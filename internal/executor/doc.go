// Package executor runs GraphQL operations breadth first over a Runtime.
//
// Fields are either sync or async, as marked by schema.Field.Async. Sync
// fields are resolved immediately with Runtime.ResolveSync while the
// selection set is walked. Async fields are queued; once a depth has been
// walked, the queue is handed to Runtime.BatchResolveAsync in one call and
// the results are completed, which may queue the next depth. A gateway
// marks the fields it must fetch from another service as async and reads
// everything else from the fetched values.
//
// # Completion
//
// Values are completed against their declared types: lists are walked item
// by item, leaves go through Runtime.SerializeLeafValue, abstract types are
// narrowed with Runtime.ResolveType and objects recurse into their merged
// sub-selections.
//
// A null in a Non-Null position is an error located at the field's response
// path. The null then replaces the nearest nullable enclosing position: a
// nullable field, a nullable list item, or the top-level field when every
// position up to the root is Non-Null. Queued fields below a position that
// was replaced are never sent to the runtime.
//
// # Errors
//
// Resolver errors become GraphQLError values carrying the response path and,
// when the error implements Extensions() map[string]any, its extensions.
// ResolveResult.Errors lets a batch result carry errors found below the
// field, with paths relative to it.
//
// # Cancellation
//
// The context is checked before every batch. Once it is done, the queued
// fields fail with the context error and execution returns the data gathered
// so far.
package executor
