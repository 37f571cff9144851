package merge

import (
	"context"
	"testing"

	executor "github.com/hanpama/stitchgraph/internal/executor"
	language "github.com/hanpama/stitchgraph/internal/language"
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
`

const userSDL = `
type User {
  id: ID!
  email: String
}

type Query {
  userById(id: ID!): User
}

type Mutation {
  rename(id: ID!, email: String!): User
}
`

func local(t *testing.T, name, sdl string) *registry.Descriptor {
	t.Helper()
	d, err := registry.NewLocalSchema(name, sdl, nil)
	require.NoError(t, err)
	return d
}

func authorExtension() *FieldExtension {
	return &FieldExtension{
		TypeName:  "Chirp",
		FieldName: "author",
		Type:      schema.NamedType("User"),
		Fragment:  []string{"authorId"},
		Resolver:  DelegateTo("users", "userById", map[string]any{"id": "$parent.authorId"}),
	}
}

func TestMergeRootsAndBindings(t *testing.T) {
	chirps := local(t, "chirps", chirpSDL)
	users := local(t, "users", userSDL)

	u, err := Merge([]*registry.Descriptor{chirps, users}, []*FieldExtension{authorExtension()})
	require.NoError(t, err)

	s := u.Schema()
	require.Equal(t, "Query", s.QueryType)
	require.Equal(t, "Mutation", s.MutationType)
	for _, name := range []string{"chirpById", "chirpsByAuthorId", "userById"} {
		f := s.GetQueryType().GetField(name)
		require.NotNil(t, f, name)
		require.True(t, f.Async)
	}
	require.NotNil(t, s.GetMutationType().GetField("rename"))

	b := u.Binding("Query", "userById")
	require.Equal(t, Root, b.Kind)
	require.Same(t, users, b.Owner)
	require.Equal(t, language.Query, b.Operation)
	b = u.Binding("Mutation", "rename")
	require.Equal(t, language.Mutation, b.Operation)

	b = u.Binding("Chirp", "author")
	require.Equal(t, Extension, b.Kind)
	require.Equal(t, "author", b.Extension.FieldName)
	require.True(t, s.Types["Chirp"].GetField("author").Async)

	require.Equal(t, Projection, u.Binding("Chirp", "text").Kind)
	require.False(t, s.Types["Chirp"].GetField("text").Async)
	require.False(t, chirps.Schema().GetQueryType().GetField("chirpById").Async, "source schema untouched")
	require.Nil(t, chirps.Schema().Types["Chirp"].GetField("author"))

	got, ok := u.Descriptor("chirps")
	require.True(t, ok)
	require.Same(t, chirps, got)
	require.Len(t, u.Descriptors(), 2)
	require.Len(t, u.Extensions(), 1)
	require.Contains(t, u.SDL(), "author: User")
	require.NotNil(t, u.Validation().Types["Chirp"].Fields.ForName("author"))
}

func TestMergeIdempotent(t *testing.T) {
	chirps := local(t, "chirps", chirpSDL)
	once, err := Merge([]*registry.Descriptor{chirps}, nil)
	require.NoError(t, err)
	twice, err := Merge([]*registry.Descriptor{chirps, chirps}, nil)
	require.NoError(t, err)
	require.Equal(t, once.SDL(), twice.SDL())
}

func TestMergeSharedTypes(t *testing.T) {
	a := local(t, "a", `
		type User { id: ID! name: String }
		type Query { a: User }
	`)
	b := local(t, "b", `
		type User { name: String id: ID! }
		type Query { b: User }
	`)
	u, err := Merge([]*registry.Descriptor{a, b}, nil)
	require.NoError(t, err)
	require.Len(t, u.Schema().Types["User"].Fields, 2)
}

func TestMergeInterfacePossibleTypes(t *testing.T) {
	a := local(t, "a", `
		interface Node { id: ID! }
		type User implements Node { id: ID! }
		type Query { user: User }
	`)
	b := local(t, "b", `
		interface Node { id: ID! }
		type Chirp implements Node { id: ID! }
		type Query { chirp: Chirp }
	`)
	u, err := Merge([]*registry.Descriptor{a, b}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"User", "Chirp"}, u.Schema().Types["Node"].PossibleTypes)
	require.ElementsMatch(t, []string{"User"}, a.Schema().Types["Node"].PossibleTypes)
}

func TestMergeCustomRootNames(t *testing.T) {
	sch, err := schema.BuildFromSDL(`
		schema { query: Root mutation: Change }
		type Viewer { root: Root }
		type Root { viewer: Viewer }
		type Change { ping: Boolean }
	`)
	require.NoError(t, err)
	d, err := registry.NewDescriptor("custom", sch, registry.ExecutorFunc(func(context.Context, *registry.Request) (*executor.ExecutionResult, error) {
		return nil, nil
	}))
	require.NoError(t, err)

	u, err := Merge([]*registry.Descriptor{d}, nil)
	require.NoError(t, err)
	s := u.Schema()
	require.NotContains(t, s.Types, "Root")
	require.NotContains(t, s.Types, "Change")
	require.Equal(t, "Query", s.Types["Viewer"].GetField("root").Type.String())
	require.NotNil(t, s.GetMutationType().GetField("ping"))
}

func TestMergeErrors(t *testing.T) {
	chirps := func(t *testing.T) *registry.Descriptor { return local(t, "chirps", chirpSDL) }
	users := func(t *testing.T) *registry.Descriptor { return local(t, "users", userSDL) }

	cases := []struct {
		name        string
		descriptors func(t *testing.T) []*registry.Descriptor
		extensions  []*FieldExtension
		want        error
	}{
		{
			name: "duplicate name",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{chirps(t), chirps(t)}
			},
			want: ErrDuplicateSchema,
		},
		{
			name: "field type mismatch",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{users(t), local(t, "other", `
					type User { id: ID! email: Int }
					type Query { other: User }
				`)}
			},
			want: ErrTypeCollision,
		},
		{
			name: "kind mismatch",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{users(t), local(t, "other", `
					input User { id: ID! }
					type Query { other(u: User): Int }
				`)}
			},
			want: ErrTypeCollision,
		},
		{
			name: "reserved root name",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{local(t, "other", `
					schema { query: Root }
					type Query { a: Int }
					type Root { q: Query }
				`)}
			},
			want: ErrTypeCollision,
		},
		{
			name: "root field collision",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{users(t), local(t, "other", `type Query { userById(id: ID!): Int }`)}
			},
			want: ErrRootFieldCollision,
		},
		{
			name:        "unknown target type",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{users(t)} },
			extensions:  []*FieldExtension{authorExtension()},
			want:        ErrUnknownExtensionTarget,
		},
		{
			name:        "unknown return type",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{chirps(t)} },
			extensions:  []*FieldExtension{authorExtension()},
			want:        ErrUnknownExtensionTarget,
		},
		{
			name:        "unknown argument type",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{chirps(t), users(t)} },
			extensions: []*FieldExtension{func() *FieldExtension {
				ext := authorExtension()
				ext.Arguments = []*schema.InputValue{schema.NewInputValue("filter", "", schema.NamedType("Filter"))}
				return ext
			}()},
			want: ErrUnknownExtensionTarget,
		},
		{
			name:        "existing field",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{chirps(t), users(t)} },
			extensions: []*FieldExtension{func() *FieldExtension {
				ext := authorExtension()
				ext.FieldName = "text"
				return ext
			}()},
			want: ErrTypeCollision,
		},
		{
			name:        "fragment names unknown field",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{chirps(t), users(t)} },
			extensions: []*FieldExtension{func() *FieldExtension {
				ext := authorExtension()
				ext.Fragment = []string{"writerId"}
				return ext
			}()},
			want: ErrInvalidFragment,
		},
		{
			name: "fragment ends at object",
			descriptors: func(t *testing.T) []*registry.Descriptor {
				return []*registry.Descriptor{users(t), local(t, "posts", `
					type Post { id: ID! author: User }
					type User { id: ID! email: String }
					type Query { post: Post }
				`)}
			},
			extensions: []*FieldExtension{{
				TypeName:  "Post",
				FieldName: "writer",
				Type:      schema.NamedType("User"),
				Fragment:  []string{"author"},
				Resolver:  DelegateTo("users", "userById", map[string]any{"id": "$parent.author"}),
			}},
			want: ErrInvalidFragment,
		},
		{
			name:        "missing resolver",
			descriptors: func(t *testing.T) []*registry.Descriptor { return []*registry.Descriptor{chirps(t), users(t)} },
			extensions: []*FieldExtension{func() *FieldExtension {
				ext := authorExtension()
				ext.Resolver = nil
				return ext
			}()},
			want: ErrInvalidExtension,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Merge(tc.descriptors(t), tc.extensions)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestMergeNestedFragment(t *testing.T) {
	posts := local(t, "posts", `
		type Post { id: ID! meta: Meta }
		type Meta { authorId: ID! }
		type Query { post: Post }
	`)
	users := local(t, "users", userSDL)
	_, err := Merge([]*registry.Descriptor{posts, users}, []*FieldExtension{{
		TypeName:  "Post",
		FieldName: "author",
		Type:      schema.NamedType("User"),
		Fragment:  []string{"meta.authorId"},
		Resolver:  DelegateTo("users", "userById", map[string]any{"id": "$parent.meta.authorId"}),
	}})
	require.NoError(t, err)
}

func TestMergeEmpty(t *testing.T) {
	_, err := Merge(nil, nil)
	require.Error(t, err)
}

func TestDelegateTo(t *testing.T) {
	resolve := DelegateTo("users", "search", map[string]any{
		"id":     "$parent.author.id",
		"first":  "$args.first",
		"after":  "$args.after",
		"kind":   "USER",
		"filter": map[string]any{"ids": []any{"$parent.author.id"}},
	})

	d, err := resolve(context.Background(),
		map[string]any{"author": map[string]any{"id": "7"}},
		map[string]any{"first": 3}, nil)
	require.NoError(t, err)
	require.Equal(t, &Delegation{
		Schema:    "users",
		Operation: language.Query,
		Field:     "search",
		Args: map[string]any{
			"id":     "7",
			"first":  3,
			"kind":   "USER",
			"filter": map[string]any{"ids": []any{"7"}},
		},
	}, d)

	_, err = resolve(context.Background(), map[string]any{}, nil, nil)
	require.ErrorIs(t, err, ErrMissingValue)
}

func TestParseFragment(t *testing.T) {
	cases := map[string][]string{
		"{ authorId }":                        {"authorId"},
		"authorId":                            {"authorId"},
		"{ id meta { authorId tags } }":       {"id", "meta.authorId", "meta.tags"},
		"... on Chirp { authorId }":           {"authorId"},
		"fragment A on Chirp { authorId id }": {"authorId", "id"},
		"":                                    nil,
	}
	for src, want := range cases {
		got, err := ParseFragment(src)
		require.NoError(t, err, src)
		require.Equal(t, want, got, src)
	}

	for _, src := range []string{"{ a: authorId }", "{ chirps(first: 1) { id } }", "{ ...Other }", "{"} {
		_, err := ParseFragment(src)
		require.Error(t, err, src)
	}
}

func TestParseExtensionSDL(t *testing.T) {
	exts, err := ParseExtensionSDL("ext.graphql", `
		extend type User {
		  "Chirps written by the user."
		  chirps(first: Int = 10): [Chirp!]!
		}
		extend type Chirp { author: User }
	`)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	require.Equal(t, "User", exts[0].TypeName)
	require.Equal(t, "chirps", exts[0].FieldName)
	require.Equal(t, "Chirps written by the user.", exts[0].Description)
	require.Equal(t, "[Chirp!]!", exts[0].Type.String())
	require.Equal(t, int64(10), exts[0].Arguments[0].DefaultValue)
	require.Equal(t, "author", exts[1].FieldName)

	_, err = ParseExtensionSDL("ext.graphql", `type User { id: ID }`)
	require.ErrorIs(t, err, ErrInvalidExtension)
	_, err = ParseExtensionSDL("ext.graphql", `extend input Filter { id: ID }`)
	require.ErrorIs(t, err, ErrInvalidExtension)
	_, err = ParseExtensionSDL("ext.graphql", `extend type {`)
	require.Error(t, err)
}
