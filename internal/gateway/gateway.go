// Package gateway serves GraphQL operations against a unified schema.
package gateway

import (
	"context"
	"maps"
	"time"

	delegate "github.com/hanpama/stitchgraph/internal/delegate"
	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	executor "github.com/hanpama/stitchgraph/internal/executor"
	introspection "github.com/hanpama/stitchgraph/internal/introspection"
	language "github.com/hanpama/stitchgraph/internal/language"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Error codes set in extensions.code of request errors.
const (
	CodeParseFailed      = "GRAPHQL_PARSE_FAILED"
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
)

const defaultCacheSize = 1024

type options struct {
	cacheSize int
	runtime   []delegate.Option
}

type Option func(*options)

// WithCacheSize sets how many validated documents are kept. Zero disables
// the cache.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithConcurrency bounds concurrent sub-queries per execution depth.
func WithConcurrency(n int) Option {
	return func(o *options) { o.runtime = append(o.runtime, delegate.WithConcurrency(n)) }
}

// Gateway validates client operations and executes them by delegation.
type Gateway struct {
	unified *merge.UnifiedSchema
	exec    *executor.Executor
	cache   *lru.Cache[string, document]
}

// document is a validated operation. reserved lists the names that clash
// with values the gateway injects into sub-queries; Execute tolerates them
// since its callers are gateways planning their own sub-queries.
type document struct {
	doc      *language.QueryDocument
	reserved language.ErrorList
}

func New(unified *merge.UnifiedSchema, opts ...Option) (*Gateway, error) {
	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	wrapped := introspection.Wrap(delegate.New(unified, o.runtime...), unified.Schema())
	g := &Gateway{
		unified: unified,
		exec:    executor.NewExecutor(wrapped.Runtime, wrapped.Schema),
	}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, document](o.cacheSize)
		if err != nil {
			return nil, err
		}
		g.cache = cache
	}
	return g, nil
}

func (g *Gateway) Schema() *merge.UnifiedSchema { return g.unified }

// HandleQuery runs one client operation. Parse and validation failures are
// reported in the result without data.
func (g *Gateway) HandleQuery(ctx context.Context, req *registry.Request) *executor.ExecutionResult {
	return g.handle(ctx, req, false)
}

func (g *Gateway) handle(ctx context.Context, req *registry.Request, upstream bool) *executor.ExecutionResult {
	start := time.Now()
	loaded, cached, errs := g.load(req.Query)
	if len(errs) == 0 && !upstream {
		errs = loaded.reserved
	}
	doc := loaded.doc
	opType := operationType(doc, req.OperationName)
	eventbus.Publish(ctx, events.GraphQLStart{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Cached:        cached,
	})

	var res *executor.ExecutionResult
	if len(errs) > 0 {
		res = &executor.ExecutionResult{Errors: requestErrors(errs)}
	} else {
		res = g.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	}

	published := make([]error, len(res.Errors))
	for i := range res.Errors {
		published[i] = res.Errors[i]
	}
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        published,
		Duration:      time.Since(start),
	})
	return res
}

// Execute lets a gateway be registered as the executor of another gateway.
func (g *Gateway) Execute(ctx context.Context, req *registry.Request) (*executor.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.handle(ctx, req, true), nil
}

// load parses and validates query, reporting whether the document came from
// the cache. Invalid documents are never cached.
func (g *Gateway) load(query string) (document, bool, language.ErrorList) {
	if g.cache != nil {
		if d, ok := g.cache.Get(query); ok {
			return d, true, nil
		}
	}
	doc, errs := language.LoadQuery(g.unified.Validation(), query)
	if len(errs) > 0 {
		return document{}, false, errs
	}
	d := document{doc: doc, reserved: delegate.CheckReserved(doc)}
	if g.cache != nil {
		g.cache.Add(query, d)
	}
	return d, false, nil
}

func requestErrors(errs language.ErrorList) []executor.GraphQLError {
	out := executor.FromLanguageErrors(errs)
	for i, e := range errs {
		code := CodeValidationFailed
		if e.Rule == "" {
			code = CodeParseFailed
		}
		ext := make(map[string]any, len(out[i].Extensions)+1)
		maps.Copy(ext, out[i].Extensions)
		ext["code"] = code
		out[i].Extensions = ext
	}
	return out
}

func operationType(doc *language.QueryDocument, name string) string {
	if doc == nil {
		return ""
	}
	op := doc.Operations.ForName(name)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return ""
	}
	return string(op.Operation)
}
