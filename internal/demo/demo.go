// Package demo provides two small in-process schemas, chirps and users,
// stitched together by author and chirps fields.
package demo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	merge "github.com/hanpama/stitchgraph/internal/merge"
	registry "github.com/hanpama/stitchgraph/internal/registry"
)

const ChirpSDL = `
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
  postChirp(authorId: ID!, text: String!): Chirp
}
`

const UserSDL = `
type User {
  id: ID!
  email: String
  username: String
}

type Query {
  userById(id: ID!): User
  users: [User!]!
}
`

// ExtensionSDL links the two schemas.
const ExtensionSDL = `
extend type User {
  chirps: [Chirp]
}

extend type Chirp {
  author: User
}
`

// Store holds demo data. The zero value is empty; use NewStore for seed data.
type Store struct {
	mu     sync.RWMutex
	users  map[string]map[string]any
	chirps []map[string]any
}

// NewStore returns a store seeded with a few users and chirps.
func NewStore() *Store {
	s := &Store{users: map[string]map[string]any{}}
	for _, u := range []map[string]any{
		{"id": "1", "email": "ada@example.com", "username": "ada"},
		{"id": "2", "email": "alan@example.com", "username": "alan"},
		{"id": "3", "email": "grace@example.com", "username": "grace"},
	} {
		s.users[u["id"].(string)] = u
	}
	s.chirps = []map[string]any{
		{"id": "1", "text": "first chirp", "authorId": "1"},
		{"id": "2", "text": "engines all the way down", "authorId": "1"},
		{"id": "3", "text": "can machines think?", "authorId": "2"},
		{"id": "4", "text": "nanoseconds", "authorId": "3"},
	}
	return s
}

func (s *Store) user(id string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id]
}

func (s *Store) allUsers() []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = s.users[id]
	}
	return out
}

func (s *Store) chirp(id string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chirps {
		if c["id"] == id {
			return c
		}
	}
	return nil
}

func (s *Store) chirpsBy(authorID string) []any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []any{}
	for _, c := range s.chirps {
		if c["authorId"] == authorID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store) post(authorID, text string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := map[string]any{"id": fmt.Sprint(len(s.chirps) + 1), "text": text, "authorId": authorID}
	s.chirps = append(s.chirps, c)
	return c
}

// Schemas returns the chirps and users descriptors backed by s.
func Schemas(s *Store) ([]*registry.Descriptor, error) {
	chirps, err := registry.NewLocalSchema("chirps", ChirpSDL, registry.Resolvers{
		"Query": {
			"chirpById": func(_ context.Context, _ any, args map[string]any) (any, error) {
				return nilIfEmpty(s.chirp(args["id"].(string))), nil
			},
			"chirpsByAuthorId": func(_ context.Context, _ any, args map[string]any) (any, error) {
				return s.chirpsBy(args["authorId"].(string)), nil
			},
		},
		"Mutation": {
			"postChirp": func(_ context.Context, _ any, args map[string]any) (any, error) {
				authorID := args["authorId"].(string)
				if s.user(authorID) == nil {
					return nil, fmt.Errorf("unknown author %s", authorID)
				}
				return s.post(authorID, args["text"].(string)), nil
			},
		},
	})
	if err != nil {
		return nil, err
	}
	users, err := registry.NewLocalSchema("users", UserSDL, registry.Resolvers{
		"Query": {
			"userById": func(_ context.Context, _ any, args map[string]any) (any, error) {
				return nilIfEmpty(s.user(args["id"].(string))), nil
			},
			"users": func(context.Context, any, map[string]any) (any, error) {
				return s.allUsers(), nil
			},
		},
	})
	if err != nil {
		return nil, err
	}
	return []*registry.Descriptor{chirps, users}, nil
}

// Extensions returns the fields linking chirps and users.
func Extensions() ([]*merge.FieldExtension, error) {
	exts, err := merge.ParseExtensionSDL("demo.graphql", ExtensionSDL)
	if err != nil {
		return nil, err
	}
	for _, ext := range exts {
		switch ext.TypeName + "." + ext.FieldName {
		case "User.chirps":
			ext.Fragment = []string{"id"}
			ext.Resolver = merge.DelegateTo("chirps", "chirpsByAuthorId", map[string]any{"authorId": "$parent.id"})
		case "Chirp.author":
			ext.Fragment = []string{"authorId"}
			ext.Resolver = merge.DelegateTo("users", "userById", map[string]any{"id": "$parent.authorId"})
		}
	}
	return exts, nil
}

// nilIfEmpty keeps a missing row from becoming a typed nil map.
func nilIfEmpty(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
