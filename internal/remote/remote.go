// Package remote builds schema descriptors for GraphQL endpoints reached over
// HTTP: the endpoint is introspected once and later operations are forwarded
// to it.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	introspection "github.com/hanpama/stitchgraph/internal/introspection"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	schema "github.com/hanpama/stitchgraph/internal/schema"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// ErrIntrospection matches every IntrospectionError.
var ErrIntrospection = errors.New("remote introspection failed")

// IntrospectionError reports a remote schema that could not be described,
// either because the endpoint was unreachable or because its answer was not
// a usable introspection result.
type IntrospectionError struct {
	Schema string
	URL    string
	Err    error
}

func (e *IntrospectionError) Error() string {
	return fmt.Sprintf("introspect schema %s at %s: %v", e.Schema, e.URL, e.Err)
}

func (e *IntrospectionError) Unwrap() error        { return e.Err }
func (e *IntrospectionError) Is(target error) bool { return target == ErrIntrospection }

// Option configures a remote schema.
type Option func(*config)

type config struct {
	client     *http.Client
	headers    http.Header
	timeout    time.Duration
	newBackOff func() backoff.BackOff
	maxTries   uint
	maxElapsed time.Duration
}

func newConfig(opts []Option) *config {
	cfg := &config{
		client:     sharedClient,
		headers:    http.Header{},
		maxTries:   5,
		maxElapsed: 30 * time.Second,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithHTTPClient replaces the shared pooled client.
func WithHTTPClient(c *http.Client) Option { return func(cfg *config) { cfg.client = c } }

// WithHeader adds a static header sent with every request to the remote.
func WithHeader(name, value string) Option {
	return func(cfg *config) { cfg.headers.Add(name, value) }
}

// WithTimeout bounds each request to the remote.
func WithTimeout(d time.Duration) Option { return func(cfg *config) { cfg.timeout = d } }

// WithMaxTries bounds introspection attempts. Zero means no limit.
func WithMaxTries(n uint) Option { return func(cfg *config) { cfg.maxTries = n } }

// WithMaxElapsedTime bounds the total time spent introspecting.
func WithMaxElapsedTime(d time.Duration) Option { return func(cfg *config) { cfg.maxElapsed = d } }

// WithBackOff sets the retry policy used between introspection attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(cfg *config) { cfg.newBackOff = newBackOff }
}

// WithExponentialBackOff configures the default exponential policy.
func WithExponentialBackOff(initial, maxInterval time.Duration) Option {
	return WithBackOff(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		return b
	})
}

// NewSchema introspects the endpoint at uri and returns a descriptor whose
// executor forwards operations to the same uri. Transport failures and
// 5xx/429 responses are retried with backoff; anything else fails at once.
// Every failure is an *IntrospectionError.
func NewSchema(ctx context.Context, name, uri string, opts ...Option) (*registry.Descriptor, error) {
	cfg := newConfig(opts)
	exec := &Executor{url: uri, client: cfg.client, headers: cfg.headers, timeout: cfg.timeout}

	attempt := 0
	operation := func() (*schema.Schema, error) {
		attempt++
		start := time.Now()
		sch, err := introspect(ctx, exec)
		eventbus.Publish(ctx, events.IntrospectionAttempt{
			Schema:   name,
			URL:      uri,
			Attempt:  attempt,
			Err:      err,
			Duration: time.Since(start),
		})
		return sch, err
	}
	retryOpts := []backoff.RetryOption{backoff.WithBackOff(cfg.newBackOff())}
	if cfg.maxTries > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(cfg.maxTries))
	}
	if cfg.maxElapsed > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(cfg.maxElapsed))
	}
	sch, err := backoff.Retry(ctx, operation, retryOpts...)
	if err != nil {
		return nil, &IntrospectionError{Schema: name, URL: uri, Err: err}
	}

	d, err := registry.NewDescriptor(name, sch, exec)
	if err != nil {
		return nil, &IntrospectionError{Schema: name, URL: uri, Err: err}
	}
	return d, nil
}

func introspect(ctx context.Context, exec *Executor) (*schema.Schema, error) {
	body, err := json.Marshal(&registry.Request{Query: introspection.Query, OperationName: "IntrospectionQuery"})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	status, raw, err := exec.post(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if !isSuccess(status) {
		serr := &StatusError{URL: exec.url, StatusCode: status, Body: snippet(raw)}
		if serr.Temporary() {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	sch, err := introspection.FromResponse(raw)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return sch, nil
}

// Endpoint names a remote schema to load with LoadAll.
type Endpoint struct {
	Name    string
	URL     string
	Options []Option
}

// LoadAll introspects endpoints concurrently. It returns descriptors in the
// order of endpoints, or the first error; remaining attempts are cancelled.
// opts apply to every endpoint before its own options.
func LoadAll(ctx context.Context, endpoints []Endpoint, opts ...Option) ([]*registry.Descriptor, error) {
	out := make([]*registry.Descriptor, len(endpoints))
	g, ctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		g.Go(func() error {
			all := append(append([]Option(nil), opts...), ep.Options...)
			d, err := NewSchema(ctx, ep.Name, ep.URL, all...)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
