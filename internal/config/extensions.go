package config

import (
	"context"
	"fmt"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	gateway "github.com/hanpama/stitchgraph/internal/gateway"
	language "github.com/hanpama/stitchgraph/internal/language"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	remote "github.com/hanpama/stitchgraph/internal/remote"
	server "github.com/hanpama/stitchgraph/internal/server"
)

// Extensions declares fields added to the unified schema. TypeDefs holds
// "extend type" SDL; every declared field needs a matching delegation.
type Extensions struct {
	TypeDefs    string       `yaml:"type_defs"`
	Delegations []Delegation `yaml:"delegations"`
}

// Delegation resolves Type.Field by calling Target on Schema. Args values
// may reference "$parent.<path>" and "$args.<name>".
type Delegation struct {
	Type      string         `yaml:"type"`
	Field     string         `yaml:"field"`
	Fragment  string         `yaml:"fragment"`
	Schema    string         `yaml:"schema"`
	Operation string         `yaml:"operation"`
	Target    string         `yaml:"target"`
	Args      map[string]any `yaml:"args"`
}

// Build parses TypeDefs and attaches each delegation to its field.
func (e Extensions) Build() ([]*merge.FieldExtension, error) {
	if e.TypeDefs == "" {
		if len(e.Delegations) > 0 {
			d := e.Delegations[0]
			return nil, fmt.Errorf("%w: delegation for %s.%s has no type definition", ErrInvalid, d.Type, d.Field)
		}
		return nil, nil
	}
	exts, err := merge.ParseExtensionSDL("extensions.graphql", e.TypeDefs)
	if err != nil {
		return nil, fmt.Errorf("extensions: %w", err)
	}
	byKey := make(map[string]Delegation, len(e.Delegations))
	for _, d := range e.Delegations {
		key := d.Type + "." + d.Field
		if _, dup := byKey[key]; dup {
			return nil, fmt.Errorf("%w: %s has two delegations", ErrInvalid, key)
		}
		byKey[key] = d
	}
	for _, ext := range exts {
		key := ext.TypeName + "." + ext.FieldName
		d, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("%w: extension field %s has no delegation", ErrInvalid, key)
		}
		delete(byKey, key)
		if d.Fragment != "" {
			paths, err := merge.ParseFragment(d.Fragment)
			if err != nil {
				return nil, fmt.Errorf("%s fragment: %w", key, err)
			}
			ext.Fragment = paths
		}
		op, err := operation(d.Operation)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		ext.Resolver = withOperation(merge.DelegateTo(d.Schema, d.Target, d.Args), op)
	}
	for key := range byKey {
		return nil, fmt.Errorf("%w: delegation %s matches no extension field", ErrInvalid, key)
	}
	return exts, nil
}

func operation(name string) (language.Operation, error) {
	switch name {
	case "", "query":
		return language.Query, nil
	case "mutation":
		return language.Mutation, nil
	}
	return "", fmt.Errorf("%w: unsupported operation %q", ErrInvalid, name)
}

func withOperation(fn merge.DelegationResolver, op language.Operation) merge.DelegationResolver {
	if op == language.Query {
		return fn
	}
	return func(ctx context.Context, parent, args map[string]any, info *executor.ResolveInfo) (*merge.Delegation, error) {
		d, err := fn(ctx, parent, args, info)
		if d != nil {
			d.Operation = op
		}
		return d, err
	}
}

// Endpoints lists the configured remotes with their own options.
func (c *Config) Endpoints() []remote.Endpoint {
	out := make([]remote.Endpoint, 0, len(c.Remotes))
	for _, r := range c.Remotes {
		var opts []remote.Option
		for name, value := range r.Headers {
			opts = append(opts, remote.WithHeader(name, value))
		}
		if r.Timeout > 0 {
			opts = append(opts, remote.WithTimeout(r.Timeout))
		}
		out = append(out, remote.Endpoint{Name: r.Name, URL: r.URL, Options: opts})
	}
	return out
}

// RemoteOptions returns the options shared by every remote.
func (c *Config) RemoteOptions() []remote.Option {
	in := c.Introspection
	opts := []remote.Option{remote.WithMaxTries(in.MaxTries)}
	if in.InitialInterval > 0 && in.MaxInterval > 0 {
		opts = append(opts, remote.WithExponentialBackOff(in.InitialInterval, in.MaxInterval))
	}
	if in.MaxElapsed > 0 {
		opts = append(opts, remote.WithMaxElapsedTime(in.MaxElapsed))
	}
	return opts
}

// ServerOptions maps the server section onto HTTP handler options.
func (c *Config) ServerOptions() []server.Option {
	s := c.Server
	opts := []server.Option{
		server.WithTimeout(s.Timeout),
		server.WithGraphiQL(s.GraphiQL),
		server.WithCORS(s.CORSOrigins...),
		server.WithForwardHeaders(s.ForwardHeaders...),
	}
	if s.Pretty {
		opts = append(opts, server.WithPretty())
	}
	if s.MaxBodyBytes > 0 {
		opts = append(opts, server.WithMaxBodyBytes(s.MaxBodyBytes))
	}
	return opts
}

// GatewayOptions maps cache and concurrency settings onto the gateway.
func (c *Config) GatewayOptions() []gateway.Option {
	var opts []gateway.Option
	if c.Server.CacheSize > 0 {
		opts = append(opts, gateway.WithCacheSize(c.Server.CacheSize))
	}
	if c.Server.Concurrency > 0 {
		opts = append(opts, gateway.WithConcurrency(c.Server.Concurrency))
	}
	return opts
}
