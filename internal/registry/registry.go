package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

var (
	ErrInvalidDescriptor = errors.New("invalid schema descriptor")
	ErrDuplicateSchema   = errors.New("duplicate schema name")
	ErrUnknownResolver   = errors.New("resolver for unknown field")
)

// Request is a single GraphQL operation sent to an Executor.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Executor runs operations against one source schema.
//
// A non-nil error means the operation could not be run at all (transport
// failure, cancelled context). GraphQL errors travel in the result.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*executor.ExecutionResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) (*executor.ExecutionResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*executor.ExecutionResult, error) {
	return f(ctx, req)
}

// Descriptor is a named source schema together with the executor that serves
// it. A Descriptor does not change after construction; callers must treat the
// returned schema as read-only.
type Descriptor struct {
	name   string
	schema *schema.Schema
	exec   Executor
}

// NewDescriptor validates its inputs and returns a Descriptor.
func NewDescriptor(name string, sch *schema.Schema, exec Executor) (*Descriptor, error) {
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	case sch == nil:
		return nil, fmt.Errorf("%w: schema %s has no type definitions", ErrInvalidDescriptor, name)
	case sch.GetQueryType() == nil:
		return nil, fmt.Errorf("%w: schema %s has no query type", ErrInvalidDescriptor, name)
	case exec == nil:
		return nil, fmt.Errorf("%w: schema %s has no executor", ErrInvalidDescriptor, name)
	}
	return &Descriptor{name: name, schema: sch, exec: exec}, nil
}

func (d *Descriptor) Name() string           { return d.name }
func (d *Descriptor) Schema() *schema.Schema { return d.schema }
func (d *Descriptor) Executor() Executor     { return d.exec }
func (d *Descriptor) String() string         { return d.name }

// Registry holds descriptors by unique name in registration order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	order  []*Descriptor
}

func New() *Registry {
	return &Registry{byName: make(map[string]*Descriptor)}
}

// Register adds d. Registering the same descriptor twice is a no-op; a
// different descriptor under a taken name fails with ErrDuplicateSchema.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidDescriptor)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[d.name]; ok {
		if existing == d {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, d.name)
	}
	r.byName[d.name] = d
	r.order = append(r.order, d)
	return nil
}

func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.order...)
}
