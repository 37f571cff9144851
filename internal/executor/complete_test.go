package executor

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCompleteNonNullPropagatesToNullableParent(t *testing.T) {
	sch := buildSchema(t, graphSDL)
	rt := newFake(map[string]resolverFunc{
		"Query.user":  func(any, map[string]any) (any, error) { return ada, nil },
		"User.pinned": func(any, map[string]any) (any, error) { return map[string]any{"id": "c1", "text": nil}, nil },
	})
	got := execute(t, sch, rt, `{ user(id: "1") { id pinned { text } } version }`, nil)
	want := &ExecutionResult{
		Data: map[string]any{"user": nil, "version": nil},
		Errors: []GraphQLError{
			{Message: "Cannot return null for non-nullable field user.pinned.text", Path: Path{"user", "pinned", "text"}},
			{Message: "Cannot return null for non-nullable field version", Path: Path{"version"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteAsyncNonNullNullsNearestNullableItem(t *testing.T) {
	sch := buildSchema(t, graphSDL, "User.pinned")
	rt := newFake(map[string]resolverFunc{
		"Query.users": func(any, map[string]any) (any, error) {
			return []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}}, nil
		},
		"User.pinned": func(src any, _ map[string]any) (any, error) {
			if src.(map[string]any)["id"] == "2" {
				return nil, errors.New("gone")
			}
			return map[string]any{"id": "c1"}, nil
		},
	})
	got := execute(t, sch, rt, `{ users { id pinned { id } } }`, nil)
	want := &ExecutionResult{
		Data: map[string]any{"users": []any{
			map[string]any{"id": "1", "pinned": map[string]any{"id": "c1"}},
			nil,
		}},
		Errors: []GraphQLError{{Message: "gone", Path: Path{"users", 1, "pinned"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteDiscardsWorkBelowNulledParent(t *testing.T) {
	sch := buildSchema(t, graphSDL, "Query.user", "User.pinned", "User.chirps", "Chirp.author")
	rt := newFake(map[string]resolverFunc{
		"Query.user":   func(any, map[string]any) (any, error) { return ada, nil },
		"User.pinned":  func(any, map[string]any) (any, error) { return nil, errors.New("pinned failed") },
		"User.chirps":  func(any, map[string]any) (any, error) { return []any{map[string]any{"id": "c1"}}, nil },
		"Chirp.author": func(any, map[string]any) (any, error) { return ada, nil },
	})

	for _, query := range []string{
		`{ user(id: "1") { pinned { id } chirps { author { name } } } }`,
		`{ user(id: "1") { chirps { author { name } } pinned { id } } }`,
	} {
		rt.calls = nil
		rt.batches = 0
		got := execute(t, sch, rt, query, nil)
		want := &ExecutionResult{
			Data:   map[string]any{"user": nil},
			Errors: []GraphQLError{{Message: "pinned failed", Path: Path{"user", "pinned"}}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
		for _, c := range rt.fieldCalls() {
			require.NotEqual(t, "Chirp.author", c.Field, query)
		}
		require.Equal(t, 2, rt.batches)
	}
}

func TestCompleteLists(t *testing.T) {
	sch := buildSchema(t, graphSDL)

	t.Run("Non-null item violation nulls the list", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.user":  func(any, map[string]any) (any, error) { return ada, nil },
			"User.chirps": func(any, map[string]any) (any, error) { return []any{map[string]any{"id": "c1"}, nil}, nil },
		})
		got := execute(t, sch, rt, `{ user(id: "1") { chirps { id } } }`, nil)
		want := &ExecutionResult{
			Data:   map[string]any{"user": map[string]any{"chirps": nil}},
			Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field user.chirps[1]", Path: Path{"user", "chirps", 1}}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Typed slices", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.users": func(any, map[string]any) (any, error) {
				return []map[string]any{ada, nil}, nil
			},
		})
		got := execute(t, sch, rt, `{ users { name } }`, nil)
		require.Empty(t, got.Errors)
		require.Equal(t, map[string]any{"users": []any{map[string]any{"name": "ada"}, nil}}, got.Data)
	})

	t.Run("Not a list", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.users": func(any, map[string]any) (any, error) { return "ada", nil },
		})
		got := execute(t, sch, rt, `{ users { name } }`, nil)
		require.Equal(t, map[string]any{"users": nil}, got.Data)
		require.Equal(t, []GraphQLError{{Message: "Expected list value, got string", Path: Path{"users"}}}, got.Errors)
	})
}

func TestCompleteLeafSerialization(t *testing.T) {
	sch := buildSchema(t, graphSDL)
	rt := newFake(map[string]resolverFunc{
		"Query.version": func(any, map[string]any) (any, error) { return "v1", nil },
		"Query.count":   func(any, map[string]any) (any, error) { return "many", nil },
	})
	rt.serialize = func(typeName string, value any) (any, error) {
		switch typeName {
		case "String":
			return strings.ToUpper(value.(string)), nil
		case "Int":
			if _, ok := value.(int); !ok {
				return nil, fmt.Errorf("Int cannot represent %v", value)
			}
		}
		return value, nil
	}
	got := execute(t, sch, rt, `{ version count }`, nil)
	want := &ExecutionResult{
		Data:   map[string]any{"version": "V1", "count": nil},
		Errors: []GraphQLError{{Message: "Int cannot represent many", Path: Path{"count"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteAbstractTypes(t *testing.T) {
	sch := buildSchema(t, graphSDL)
	chirp := map[string]any{"__typename": "Chirp", "id": "c1", "text": "t"}

	t.Run("Interface", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.node": func(any, map[string]any) (any, error) { return chirp, nil },
		})
		got := execute(t, sch, rt, `{ node(id: "c1") { id ... on Chirp { text } ... on User { name } } }`, nil)
		require.Empty(t, got.Errors)
		require.Equal(t, map[string]any{"node": map[string]any{"id": "c1", "text": "t"}}, got.Data)
	})

	t.Run("Union list", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.search": func(any, map[string]any) (any, error) {
				return []any{chirp, map[string]any{"__typename": "User", "id": "1", "name": "ada"}}, nil
			},
		})
		got := execute(t, sch, rt, `{ search { __typename ... on User { name } ... on Chirp { text } } }`, nil)
		require.Empty(t, got.Errors)
		require.Equal(t, map[string]any{"search": []any{
			map[string]any{"__typename": "Chirp", "text": "t"},
			map[string]any{"__typename": "User", "name": "ada"},
		}}, got.Data)
	})

	t.Run("ResolveType error", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.node": func(any, map[string]any) (any, error) { return map[string]any{"id": "x"}, nil },
		})
		got := execute(t, sch, rt, `{ node(id: "x") { id } }`, nil)
		require.Equal(t, map[string]any{"node": nil}, got.Data)
		require.Equal(t, []GraphQLError{{Message: "cannot resolve type of Node", Path: Path{"node"}}}, got.Errors)
	})

	t.Run("Not an object type", func(t *testing.T) {
		rt := newFake(map[string]resolverFunc{
			"Query.node": func(any, map[string]any) (any, error) { return map[string]any{"__typename": "Entity"}, nil },
		})
		got := execute(t, sch, rt, `{ node(id: "x") { id } }`, nil)
		require.Equal(t, map[string]any{"node": nil}, got.Data)
		require.Equal(t, []GraphQLError{{
			Message: "Abstract type Node must resolve to an Object type at runtime. Got: Entity",
			Path:    Path{"node"},
		}}, got.Errors)
	})
}
