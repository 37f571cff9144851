package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
	"github.com/stretchr/testify/require"
)

type resolverFunc func(source any, args map[string]any) (any, error)

type call struct {
	Field string
	Batch int // 0 for sync calls
	Args  map[string]any
}

// fakeRuntime resolves "Type.field" keys from a map and records every call.
// Fields without a resolver read the key of the same name from a map source.
type fakeRuntime struct {
	mu        sync.Mutex
	resolvers map[string]resolverFunc
	calls     []call
	batches   int

	batch     func(tasks []ResolveTask) []ResolveResult
	typeOf    func(value any) (string, error)
	serialize func(typeName string, value any) (any, error)
}

func newFake(resolvers map[string]resolverFunc) *fakeRuntime {
	return &fakeRuntime{resolvers: resolvers}
}

func (f *fakeRuntime) resolve(task ResolveTask) (any, error) {
	if fn := f.resolvers[task.ObjectType+"."+task.Field]; fn != nil {
		return fn(task.Source, task.Args)
	}
	if m, ok := task.Source.(map[string]any); ok {
		return m[task.Field], nil
	}
	return nil, nil
}

func (f *fakeRuntime) record(task ResolveTask, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Field: task.ObjectType + "." + task.Field, Batch: batch, Args: task.Args})
}

func (f *fakeRuntime) ResolveSync(ctx context.Context, task ResolveTask) (any, error) {
	f.record(task, 0)
	return f.resolve(task)
}

func (f *fakeRuntime) BatchResolveAsync(ctx context.Context, tasks []ResolveTask) []ResolveResult {
	f.mu.Lock()
	f.batches++
	n := f.batches
	f.mu.Unlock()
	for _, task := range tasks {
		f.record(task, n)
	}
	if f.batch != nil {
		return f.batch(tasks)
	}
	out := make([]ResolveResult, len(tasks))
	for i, task := range tasks {
		v, err := f.resolve(task)
		out[i] = ResolveResult{Value: v, Error: err}
	}
	return out
}

func (f *fakeRuntime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if f.typeOf != nil {
		return f.typeOf(value)
	}
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve type of %s", abstractType)
}

func (f *fakeRuntime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	if f.serialize != nil {
		return f.serialize(typeName, value)
	}
	return value, nil
}

func (f *fakeRuntime) fieldCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// buildSchema builds sdl and marks the "Type.field" entries of async.
func buildSchema(t *testing.T, sdl string, async ...string) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	for _, key := range async {
		typeName, fieldName, _ := strings.Cut(key, ".")
		f := sch.Types[typeName].GetField(fieldName)
		require.NotNil(t, f, key)
		f.Async = true
	}
	return sch
}

func parse(t *testing.T, query string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return doc
}

func execute(t *testing.T, sch *schema.Schema, rt Runtime, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return NewExecutor(rt, sch).ExecuteRequest(context.Background(), parse(t, query), "", vars, nil)
}
