package delegate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	eventbus "github.com/hanpama/stitchgraph/internal/eventbus"
	events "github.com/hanpama/stitchgraph/internal/events"
	executor "github.com/hanpama/stitchgraph/internal/executor"
	language "github.com/hanpama/stitchgraph/internal/language"
	merge "github.com/hanpama/stitchgraph/internal/merge"
	registry "github.com/hanpama/stitchgraph/internal/registry"
	schema "github.com/hanpama/stitchgraph/internal/schema"
	"github.com/stretchr/testify/require"
)

const chirpSDL = `
type Chirp {
  id: ID!
  text: String
  authorId: ID!
}

type Query {
  chirpById(id: ID!): Chirp
  chirpsByAuthorId(authorId: ID!): [Chirp!]!
}

type Mutation {
  postChirp(text: String!, authorId: ID!): Chirp
}
`

const userSDL = `
interface Node { id: ID! }

type User implements Node {
  id: ID!
  email: String
  greeting(name: String!): String
}

type Query {
  userById(id: ID!): User
  node(id: ID!): Node
}

type Mutation {
  rename(id: ID!, email: String!): User
}
`

var chirpRows = []map[string]any{
	{"id": "c1", "text": "hello", "authorId": "u1"},
	{"id": "c2", "text": "again", "authorId": "u1"},
	{"id": "c3", "text": "hi", "authorId": "u2"},
}

var userRows = map[string]map[string]any{
	"u1": {"__typename": "User", "id": "u1", "email": "ada@example.com"},
	"u2": {"__typename": "User", "id": "u2", "email": "alan@example.com"},
}

func chirpResolvers() registry.Resolvers {
	return registry.Resolvers{
		"Query": {
			"chirpById": func(_ context.Context, _ any, args map[string]any) (any, error) {
				for _, c := range chirpRows {
					if c["id"] == args["id"] {
						return c, nil
					}
				}
				return nil, nil
			},
			"chirpsByAuthorId": func(_ context.Context, _ any, args map[string]any) (any, error) {
				out := []any{}
				for _, c := range chirpRows {
					if c["authorId"] == args["authorId"] {
						out = append(out, c)
					}
				}
				return out, nil
			},
		},
		"Mutation": {
			"postChirp": func(_ context.Context, _ any, args map[string]any) (any, error) {
				return map[string]any{"id": "c9", "text": args["text"], "authorId": args["authorId"]}, nil
			},
		},
	}
}

func userResolvers() registry.Resolvers {
	return registry.Resolvers{
		"Query": {
			"userById": func(_ context.Context, _ any, args map[string]any) (any, error) {
				if u, ok := userRows[args["id"].(string)]; ok {
					return u, nil
				}
				return nil, nil
			},
			"node": func(_ context.Context, _ any, args map[string]any) (any, error) {
				if u, ok := userRows[args["id"].(string)]; ok {
					return u, nil
				}
				return nil, nil
			},
		},
		"User": {
			"greeting": func(_ context.Context, source any, args map[string]any) (any, error) {
				if args["name"] == "nobody" {
					return nil, errors.New("no greeting for nobody")
				}
				return "hello " + args["name"].(string) + " from " + source.(map[string]any)["email"].(string), nil
			},
		},
		"Mutation": {
			"rename": func(_ context.Context, _ any, args map[string]any) (any, error) {
				return map[string]any{"__typename": "User", "id": args["id"], "email": args["email"]}, nil
			},
		},
	}
}

type recorded struct {
	schema    string
	query     string
	variables map[string]any
}

// recorder wraps descriptors to capture the sub-queries they receive.
type recorder struct {
	mu    sync.Mutex
	calls []recorded
	fail  map[string]error
}

func (r *recorder) wrap(t *testing.T, d *registry.Descriptor) *registry.Descriptor {
	t.Helper()
	wrapped, err := registry.NewDescriptor(d.Name(), d.Schema(), registry.ExecutorFunc(
		func(ctx context.Context, req *registry.Request) (*executor.ExecutionResult, error) {
			r.mu.Lock()
			r.calls = append(r.calls, recorded{schema: d.Name(), query: req.Query, variables: req.Variables})
			err := r.fail[d.Name()]
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return d.Executor().Execute(ctx, req)
		}))
	require.NoError(t, err)
	return wrapped
}

func (r *recorder) callsTo(name string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, c := range r.calls {
		if c.schema == name {
			out = append(out, c)
		}
	}
	return out
}

func stitched(t *testing.T, rec *recorder) *merge.UnifiedSchema {
	t.Helper()
	chirps, err := registry.NewLocalSchema("chirps", chirpSDL, chirpResolvers())
	require.NoError(t, err)
	users, err := registry.NewLocalSchema("users", userSDL, userResolvers())
	require.NoError(t, err)

	u, err := merge.Merge(
		[]*registry.Descriptor{rec.wrap(t, chirps), rec.wrap(t, users)},
		[]*merge.FieldExtension{
			{
				TypeName:  "Chirp",
				FieldName: "author",
				Type:      schema.NamedType("User"),
				Fragment:  []string{"authorId"},
				Resolver:  merge.DelegateTo("users", "userById", map[string]any{"id": "$parent.authorId"}),
			},
			{
				TypeName:  "User",
				FieldName: "chirps",
				Type:      schema.NonNullType(schema.ListType(schema.NonNullType(schema.NamedType("Chirp")))),
				Fragment:  []string{"id"},
				Resolver:  merge.DelegateTo("chirps", "chirpsByAuthorId", map[string]any{"authorId": "$parent.id"}),
			},
		},
	)
	require.NoError(t, err)
	return u
}

func run(t *testing.T, u *merge.UnifiedSchema, query string, variables map[string]any) *executor.ExecutionResult {
	t.Helper()
	doc, errs := language.LoadQuery(u.Validation(), query)
	require.Empty(t, errs)
	return executor.NewExecutor(New(u), u.Schema()).ExecuteRequest(context.Background(), doc, "", variables, nil)
}

func requireResult(t *testing.T, want, got *executor.ExecutionResult) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestRootField(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{ chirpById(id: "c1") { id text } }`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data:   map[string]any{"chirpById": map[string]any{"id": "c1", "text": "hello"}},
		Errors: []executor.GraphQLError{},
	}, res)
	require.Len(t, rec.callsTo("chirps"), 1)
	require.Empty(t, rec.callsTo("users"))
	require.Equal(t, map[string]any{"_stitchArg0": "c1"}, rec.callsTo("chirps")[0].variables)
}

func TestExtensionField(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{ chirpById(id: "c1") { text author { email } } }`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data: map[string]any{"chirpById": map[string]any{
			"text":   "hello",
			"author": map[string]any{"email": "ada@example.com"},
		}},
		Errors: []executor.GraphQLError{},
	}, res)

	chirps := rec.callsTo("chirps")
	require.Len(t, chirps, 1)
	require.Contains(t, chirps[0].query, "_stitch_authorId: authorId")
	require.NotContains(t, chirps[0].query, "author {")
	users := rec.callsTo("users")
	require.Len(t, users, 1)
	require.Contains(t, users[0].query, "author: userById")
	require.Equal(t, map[string]any{"_stitchArg0": "u1"}, users[0].variables)
}

func TestNestedExtensions(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{ userById(id: "u2") { email chirps { text author { id } } } }`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data: map[string]any{"userById": map[string]any{
			"email": "alan@example.com",
			"chirps": []any{
				map[string]any{"text": "hi", "author": map[string]any{"id": "u2"}},
			},
		}},
		Errors: []executor.GraphQLError{},
	}, res)
	require.Len(t, rec.callsTo("users"), 2)
	require.Len(t, rec.callsTo("chirps"), 1)
}

func TestIdenticalDelegationsShareSubQuery(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{ chirpsByAuthorId(authorId: "u1") { id author { email } } }`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"chirpsByAuthorId": []any{
		map[string]any{"id": "c1", "author": map[string]any{"email": "ada@example.com"}},
		map[string]any{"id": "c2", "author": map[string]any{"email": "ada@example.com"}},
	}}, res.Data)
	require.Len(t, rec.callsTo("users"), 1)
}

func TestAliasesAreKept(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{
		first: chirpById(id: "c1") { body: text writer: author { mail: email } }
		second: chirpById(id: "c3") { body: text }
	}`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"first":  map[string]any{"body": "hello", "writer": map[string]any{"mail": "ada@example.com"}},
		"second": map[string]any{"body": "hi"},
	}, res.Data)
}

func TestFragmentsAndAbstractTypes(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `
		query {
		  node(id: "u1") {
		    id
		    ... on User { ...UserFields }
		  }
		}
		fragment UserFields on User { email chirps { id } }
	`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data: map[string]any{"node": map[string]any{
			"id":     "u1",
			"email":  "ada@example.com",
			"chirps": []any{map[string]any{"id": "c1"}, map[string]any{"id": "c2"}},
		}},
		Errors: []executor.GraphQLError{},
	}, res)
	users := rec.callsTo("users")
	require.Len(t, users, 1)
	require.Contains(t, users[0].query, "_stitch_typename: __typename")
	require.NotContains(t, users[0].query, "UserFields")
}

func TestClientVariablesForwarded(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `query Greet($who: String!) {
		chirpById(id: "c1") { author { greeting(name: $who) } }
	}`, map[string]any{"who": "Grace"})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"chirpById": map[string]any{
		"author": map[string]any{"greeting": "hello Grace from ada@example.com"},
	}}, res.Data)

	users := rec.callsTo("users")
	require.Len(t, users, 1)
	require.Contains(t, users[0].query, "$who: String!")
	require.Equal(t, "Grace", users[0].variables["who"])
}

func TestSourceErrorsAreRelocated(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `{ chirpById(id: "c1") { author { greeting(name: "nobody") } } }`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data: map[string]any{"chirpById": map[string]any{"author": map[string]any{"greeting": nil}}},
		Errors: []executor.GraphQLError{{
			Message: "no greeting for nobody",
			Path:    executor.Path{"chirpById", "author", "greeting"},
		}},
	}, res)
}

func TestTransportFailure(t *testing.T) {
	rec := &recorder{fail: map[string]error{"users": errors.New("connection refused")}}
	u := stitched(t, rec)

	res := run(t, u, `{ chirpById(id: "c1") { text author { email } } }`, nil)
	require.Equal(t, map[string]any{"chirpById": map[string]any{"text": "hello", "author": nil}}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, executor.Path{"chirpById", "author"}, res.Errors[0].Path)
	require.Contains(t, res.Errors[0].Message, "connection refused")
	require.Equal(t, map[string]any{"code": "DELEGATION_FAILED", "schema": "users"}, res.Errors[0].Extensions)
}

func TestMutationsRunInOrder(t *testing.T) {
	rec := &recorder{}
	u := stitched(t, rec)

	res := run(t, u, `mutation {
		postChirp(text: "new", authorId: "u1") { id author { email } }
		rename(id: "u1", email: "ada@new.example") { email }
	}`, nil)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"postChirp": map[string]any{"id": "c9", "author": map[string]any{"email": "ada@example.com"}},
		"rename":    map[string]any{"email": "ada@new.example"},
	}, res.Data)

	require.Len(t, rec.calls, 3)
	require.Equal(t, "chirps", rec.calls[0].schema)
	require.Equal(t, "users", rec.calls[1].schema)
	require.Contains(t, rec.calls[1].query, "mutation")
	require.Contains(t, rec.calls[2].query, "userById")
}

func TestMissingFragmentValue(t *testing.T) {
	u := stitched(t, &recorder{})
	results := New(u).BatchResolveAsync(context.Background(), []executor.ResolveTask{
		{ObjectType: "Chirp", Field: "author", Source: map[string]any{"text": "hello"}},
		{ObjectType: "Chirp", Field: "text", Source: map[string]any{"text": "hello"}},
	})
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Error, merge.ErrMissingValue)
	require.ErrorIs(t, results[0].Error, ErrDelegationFailed)
	require.Error(t, results[1].Error)
}

func TestDelegationEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var mu sync.Mutex
	var started []events.DelegationStart
	var finished []events.DelegationFinish
	defer eventbus.Subscribe(func(_ context.Context, e events.DelegationStart) {
		mu.Lock()
		started = append(started, e)
		mu.Unlock()
	})()
	defer eventbus.Subscribe(func(_ context.Context, e events.DelegationFinish) {
		mu.Lock()
		finished = append(finished, e)
		mu.Unlock()
	})()

	u := stitched(t, &recorder{})
	res := run(t, u, `{ chirpById(id: "c1") { author { email } } }`, nil)
	require.Empty(t, res.Errors)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, started, 2)
	require.Len(t, finished, 2)
	require.Equal(t, "chirps", started[0].Schema)
	require.Equal(t, "chirpById", started[0].Field)
	require.Equal(t, "query", started[0].OperationType)
	require.Equal(t, started[0].ID, finished[0].ID)
	require.Equal(t, "users", finished[1].Schema)
	require.NoError(t, finished[1].Err)
}

func TestResolverPanicIsFieldError(t *testing.T) {
	chirps, err := registry.NewLocalSchema("chirps", chirpSDL, chirpResolvers())
	require.NoError(t, err)
	users, err := registry.NewLocalSchema("users", userSDL, userResolvers())
	require.NoError(t, err)
	u, err := merge.Merge([]*registry.Descriptor{chirps, users}, []*merge.FieldExtension{{
		TypeName:  "Chirp",
		FieldName: "author",
		Type:      schema.NamedType("User"),
		Fragment:  []string{"authorId"},
		Resolver: func(context.Context, map[string]any, map[string]any, *executor.ResolveInfo) (*merge.Delegation, error) {
			panic("boom")
		},
	}})
	require.NoError(t, err)

	res := run(t, u, `{ chirpById(id: "c1") { text author { email } } userById(id: "u2") { email } }`, nil)
	require.Equal(t, map[string]any{
		"chirpById": map[string]any{"text": "hello", "author": nil},
		"userById":  map[string]any{"email": "alan@example.com"},
	}, res.Data)
	require.Len(t, res.Errors, 1)
	require.Equal(t, executor.Path{"chirpById", "author"}, res.Errors[0].Path)
	require.Contains(t, res.Errors[0].Message, "boom")
	require.Equal(t, "DELEGATION_FAILED", res.Errors[0].Extensions["code"])
}

func TestSourceErrorAtFieldIsTagged(t *testing.T) {
	sch, err := schema.BuildFromSDL(chirpSDL)
	require.NoError(t, err)
	sourceExt := map[string]any{"code": "TIMEOUT"}
	chirps, err := registry.NewDescriptor("chirps", sch, registry.ExecutorFunc(
		func(context.Context, *registry.Request) (*executor.ExecutionResult, error) {
			return &executor.ExecutionResult{
				Data: map[string]any{"chirpById": nil},
				Errors: []executor.GraphQLError{
					{Message: "context deadline exceeded", Path: executor.Path{"chirpById"}, Extensions: sourceExt},
					{Message: "text unavailable", Path: executor.Path{"chirpById", "text"}},
				},
			}, nil
		}))
	require.NoError(t, err)
	u, err := merge.Merge([]*registry.Descriptor{chirps}, nil)
	require.NoError(t, err)

	res := run(t, u, `{ chirpById(id: "c1") { text } }`, nil)
	requireResult(t, &executor.ExecutionResult{
		Data: map[string]any{"chirpById": nil},
		Errors: []executor.GraphQLError{
			{
				Message:    "context deadline exceeded",
				Path:       executor.Path{"chirpById"},
				Extensions: map[string]any{"code": "DELEGATION_FAILED", "sourceCode": "TIMEOUT", "schema": "chirps"},
			},
			{Message: "text unavailable", Path: executor.Path{"chirpById", "text"}},
		},
	}, res)
	require.Equal(t, map[string]any{"code": "TIMEOUT"}, sourceExt)
}
