// Package delegate resolves unified-schema fields by sending sub-queries to
// the source schemas that own them.
package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	executor "github.com/hanpama/stitchgraph/internal/executor"
	language "github.com/hanpama/stitchgraph/internal/language"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	"golang.org/x/sync/errgroup"
)

// ErrDelegationFailed matches every DelegationError.
var ErrDelegationFailed = errors.New("delegation failed")

// DelegationError reports a sub-query that produced no usable value.
type DelegationError struct {
	Schema string
	Field  string
	// Err is set when the sub-query could not be run or planned.
	Err error
	// Errors are source errors that could not be located under the field.
	Errors []executor.GraphQLError
}

func (e *DelegationError) Error() string {
	if e.Err == nil && len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, ge := range e.Errors {
			msgs[i] = ge.Message
		}
		return strings.Join(msgs, "; ")
	}
	target := e.Field
	if e.Schema != "" {
		target = e.Schema + "." + e.Field
	}
	return fmt.Sprintf("delegation to %s failed: %v", target, e.Err)
}

func (e *DelegationError) Unwrap() error        { return e.Err }
func (e *DelegationError) Is(target error) bool { return target == ErrDelegationFailed }

func (e *DelegationError) Extensions() map[string]any {
	ext := map[string]any{"code": "DELEGATION_FAILED"}
	if e.Schema != "" {
		ext["schema"] = e.Schema
	}
	return ext
}

// Runtime implements executor.Runtime over a unified schema.
type Runtime struct {
	unified     *merge.UnifiedSchema
	concurrency int
	nextID      atomic.Uint64
}

type Option func(*Runtime)

// WithConcurrency bounds the sub-queries in flight per execution depth.
// Zero or less means unbounded.
func WithConcurrency(n int) Option { return func(r *Runtime) { r.concurrency = n } }

func New(unified *merge.UnifiedSchema, opts ...Option) *Runtime {
	r := &Runtime{unified: unified}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveSync projects a field from the parent value returned by a source
// schema, which is keyed by response name.
func (r *Runtime) ResolveSync(ctx context.Context, task executor.ResolveTask) (any, error) {
	src, ok := task.Source.(map[string]any)
	if !ok {
		return nil, nil
	}
	return src[task.ResponseKey()], nil
}

// call is one sub-query shared by every task that planned the same request.
type call struct {
	req   *request
	tasks []int
	res   *executor.ExecutionResult
	err   error
}

// BatchResolveAsync plans a sub-query for each task, sends identical
// sub-queries once and distributes the results. Query sub-queries run
// concurrently; mutation root fields run one at a time in task order.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.ResolveTask) []executor.ResolveResult {
	results := make([]executor.ResolveResult, len(tasks))
	var calls []*call
	byKey := make(map[string]*call)
	serial := false
	for i, task := range tasks {
		req, err := r.plan(ctx, task)
		if err != nil {
			results[i].Error = err
			continue
		}
		if req == nil {
			continue
		}
		if req.operation == language.Mutation {
			serial = true
			calls = append(calls, &call{req: req, tasks: []int{i}})
			continue
		}
		key := req.dedupKey()
		c := byKey[key]
		if c == nil {
			c = &call{req: req}
			byKey[key] = c
			calls = append(calls, c)
		}
		c.tasks = append(c.tasks, i)
	}

	if serial {
		for _, c := range calls {
			r.run(ctx, c)
		}
	} else {
		var g errgroup.Group
		if r.concurrency > 0 {
			g.SetLimit(r.concurrency)
		}
		for _, c := range calls {
			g.Go(func() error {
				r.run(ctx, c)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, c := range calls {
		for _, i := range c.tasks {
			results[i] = c.result()
		}
	}
	return results
}

func (r *Runtime) run(ctx context.Context, c *call) {
	req := c.req
	id := r.nextID.Add(1)
	eventbus.Publish(ctx, events.DelegationStart{
		ID:            id,
		Schema:        req.desc.Name(),
		Field:         req.field,
		OperationType: string(req.operation),
		Query:         req.query,
	})
	start := time.Now()
	c.res, c.err = execute(ctx, req)
	finish := events.DelegationFinish{
		ID:            id,
		Schema:        req.desc.Name(),
		Field:         req.field,
		OperationType: string(req.operation),
		Err:           c.err,
		Duration:      time.Since(start),
	}
	if c.res != nil {
		finish.ErrorCount = len(c.res.Errors)
	}
	eventbus.Publish(ctx, finish)
}

func execute(ctx context.Context, req *request) (res *executor.ExecutionResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("panic: %v", p)
		}
	}()
	res, err = req.desc.Executor().Execute(ctx, &registry.Request{Query: req.query, Variables: req.variables})
	if err == nil && res == nil {
		err = errors.New("executor returned no result")
	}
	return res, err
}

// result extracts the value at the request's response key. Source errors
// under that key are returned relative to it; any others turn a missing
// value into a DelegationError.
func (c *call) result() executor.ResolveResult {
	req := c.req
	if c.err != nil {
		return executor.ResolveResult{Error: &DelegationError{Schema: req.desc.Name(), Field: req.field, Err: c.err}}
	}
	var value any
	if data, ok := c.res.Data.(map[string]any); ok {
		value = data[req.key]
	}
	var nested, unlocated []executor.GraphQLError
	for _, e := range c.res.Errors {
		if len(e.Path) > 0 && e.Path[0] == req.key {
			e.Path = append(executor.Path{}, e.Path[1:]...)
			e.Locations = nil
			nested = append(nested, req.tag(e))
			continue
		}
		unlocated = append(unlocated, e)
	}
	if len(unlocated) > 0 {
		if value == nil && len(nested) == 0 {
			return executor.ResolveResult{Error: &DelegationError{Schema: req.desc.Name(), Field: req.field, Errors: unlocated}}
		}
		for _, e := range unlocated {
			e.Path = executor.Path{}
			e.Locations = nil
			nested = append(nested, req.tag(e))
		}
	}
	return executor.ResolveResult{Value: value, Errors: nested}
}

// tag gives an error reported at the delegated field itself the extensions
// of a DelegationError; a code set by the source moves to sourceCode. Errors
// below the field are left as the source reported them. The extensions map
// is shared by every task of the call, so it is copied.
func (r *request) tag(e executor.GraphQLError) executor.GraphQLError {
	if len(e.Path) > 0 {
		return e
	}
	ext := make(map[string]any, len(e.Extensions)+2)
	maps.Copy(ext, e.Extensions)
	if code, ok := ext["code"]; ok {
		ext["sourceCode"] = code
	}
	ext["code"] = "DELEGATION_FAILED"
	ext["schema"] = r.desc.Name()
	e.Extensions = ext
	return e
}

// ResolveType reads the concrete type name injected into every abstract
// selection.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		for _, key := range []string{typenameKey, "__typename"} {
			if name, ok := m[key].(string); ok {
				return r.unifiedName(name), nil
			}
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s", abstractType)
}

// unifiedName maps a source root type name back to the unified root.
func (r *Runtime) unifiedName(name string) string {
	if r.unified.Schema().Types[name] != nil {
		return name
	}
	for _, d := range r.unified.Descriptors() {
		switch name {
		case d.Schema().QueryType:
			return merge.QueryTypeName
		case d.Schema().MutationType:
			return merge.MutationTypeName
		}
	}
	return name
}

// SerializeLeafValue passes source values through; source schemas have
// already serialized them. Numbers decoded from remote responses are
// converted to Go numbers.
func (r *Runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	n, ok := value.(json.Number)
	if !ok {
		return value, nil
	}
	switch typeName {
	case "Int":
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	case "Float":
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	}
	return n, nil
}
