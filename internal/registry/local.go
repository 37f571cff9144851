package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	introspection "github.com/hanpama/stitchgraph/internal/introspection"
	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// ResolverFunc resolves one field of an in-process schema.
type ResolverFunc func(ctx context.Context, source any, args map[string]any) (any, error)

// Resolvers maps type name to field name to resolver. Fields without a
// resolver read the key of the same name from a map[string]any source.
type Resolvers map[string]map[string]ResolverFunc

// LocalExecutor runs operations in-process against a resolver set.
type LocalExecutor struct {
	validation *language.Schema
	exec       *executor.Executor
}

// NewLocalSchema builds a descriptor for an in-process schema from SDL.
func NewLocalSchema(name, sdl string, resolvers Resolvers) (*Descriptor, error) {
	doc, err := language.LoadSchema(name, sdl)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	sch := schema.BuildFromAST(doc)
	exec, err := newLocalExecutor(doc, sch, resolvers)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", name, err)
	}
	return NewDescriptor(name, sch, exec)
}

// NewLocalExecutor returns an executor for sch. The schema is rendered and
// reloaded so operations can be validated before they run.
func NewLocalExecutor(sch *schema.Schema, resolvers Resolvers) (*LocalExecutor, error) {
	doc, err := language.LoadSchema("local.graphql", schema.Render(sch))
	if err != nil {
		return nil, err
	}
	return newLocalExecutor(doc, sch, resolvers)
}

func newLocalExecutor(doc *language.Schema, sch *schema.Schema, resolvers Resolvers) (*LocalExecutor, error) {
	for typeName, fields := range resolvers {
		t := sch.Types[typeName]
		if t == nil {
			return nil, fmt.Errorf("%w: type %s", ErrUnknownResolver, typeName)
		}
		for fieldName := range fields {
			if t.GetField(fieldName) == nil {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownResolver, typeName, fieldName)
			}
		}
	}
	wrapped := introspection.Wrap(&localRuntime{resolvers: resolvers}, sch)
	return &LocalExecutor{
		validation: doc,
		exec:       executor.NewExecutor(wrapped.Runtime, wrapped.Schema),
	}, nil
}

// Execute validates and runs req. Validation failures are returned in the
// result, never as an error.
func (e *LocalExecutor) Execute(ctx context.Context, req *Request) (*executor.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, errs := language.LoadQuery(e.validation, req.Query)
	if len(errs) > 0 {
		return &executor.ExecutionResult{Errors: executor.FromLanguageErrors(errs)}, nil
	}
	return e.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil), nil
}

type localRuntime struct {
	resolvers Resolvers
}

func (r *localRuntime) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	if fn := r.resolvers[task.ObjectType][task.Field]; fn != nil {
		return fn(ctx, task.Source, task.Args)
	}
	if m, ok := task.Source.(map[string]any); ok {
		return m[task.Field], nil
	}
	return nil, nil
}

func (r *localRuntime) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.ResolveResult {
	out := make([]executor.ResolveResult, len(tasks))
	for i, task := range tasks {
		v, err := r.ResolveSync(ctx, task)
		out[i] = executor.ResolveResult{Value: v, Error: err}
	}
	return out
}

func (r *localRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s from %T", abstractType, value)
}

func (r *localRuntime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	switch typeName {
	case "Int":
		return serializeInt(value)
	case "Float":
		return serializeFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		default:
			return fmt.Sprint(v), nil
		}
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent %v", value)
	}
	return value, nil
}

func serializeInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v), nil
		}
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v), nil
		}
	case json.Number:
		if n, err := strconv.ParseInt(v.String(), 10, 32); err == nil {
			return int(n), nil
		}
	}
	return nil, fmt.Errorf("Int cannot represent %v", value)
}

func serializeFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("Float cannot represent %v", value)
}
