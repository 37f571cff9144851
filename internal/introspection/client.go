package introspection

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

// Query is the introspection query sent to remote schemas.
const Query = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types { ...FullType }
    directives {
      name
      description
      locations
      isRepeatable
      args { ...InputValue }
    }
  }
}

fragment FullType on __Type {
  kind
  name
  description
  specifiedByURL
  fields(includeDeprecated: true) {
    name
    description
    args { ...InputValue }
    type { ...TypeRef }
    isDeprecated
    deprecationReason
  }
  inputFields { ...InputValue }
  interfaces { ...TypeRef }
  enumValues(includeDeprecated: true) {
    name
    description
    isDeprecated
    deprecationReason
  }
  possibleTypes { ...TypeRef }
}

fragment InputValue on __InputValue {
  name
  description
  type { ...TypeRef }
  defaultValue
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
              ofType { kind name }
            }
          }
        }
      }
    }
  }
}
`

// ErrMalformed reports an introspection payload that cannot be converted.
var ErrMalformed = errors.New("malformed introspection result")

type typeRef struct {
	Kind   string   `json:"kind"`
	Name   *string  `json:"name"`
	OfType *typeRef `json:"ofType"`
}

type inputValue struct {
	Name         string   `json:"name"`
	Description  *string  `json:"description"`
	Type         *typeRef `json:"type"`
	DefaultValue *string  `json:"defaultValue"`
}

type field struct {
	Name              string       `json:"name"`
	Description       *string      `json:"description"`
	Args              []inputValue `json:"args"`
	Type              *typeRef     `json:"type"`
	IsDeprecated      bool         `json:"isDeprecated"`
	DeprecationReason *string      `json:"deprecationReason"`
}

type enumValue struct {
	Name              string  `json:"name"`
	Description       *string `json:"description"`
	IsDeprecated      bool    `json:"isDeprecated"`
	DeprecationReason *string `json:"deprecationReason"`
}

type fullType struct {
	Kind           string       `json:"kind"`
	Name           string       `json:"name"`
	Description    *string      `json:"description"`
	SpecifiedByURL *string      `json:"specifiedByURL"`
	Fields         []field      `json:"fields"`
	InputFields    []inputValue `json:"inputFields"`
	Interfaces     []typeRef    `json:"interfaces"`
	EnumValues     []enumValue  `json:"enumValues"`
	PossibleTypes  []typeRef    `json:"possibleTypes"`
}

type namedRef struct {
	Name string `json:"name"`
}

type directive struct {
	Name         string       `json:"name"`
	Description  *string      `json:"description"`
	Locations    []string     `json:"locations"`
	IsRepeatable bool         `json:"isRepeatable"`
	Args         []inputValue `json:"args"`
}

type schemaResult struct {
	QueryType        *namedRef   `json:"queryType"`
	MutationType     *namedRef   `json:"mutationType"`
	SubscriptionType *namedRef   `json:"subscriptionType"`
	Types            []fullType  `json:"types"`
	Directives       []directive `json:"directives"`
}

type response struct {
	Data *struct {
		Schema *schemaResult `json:"__schema"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FromResponse converts a GraphQL response body to an introspection query
// into a schema. Introspection types and built-in directives are dropped.
func FromResponse(body []byte) (*schema.Schema, error) {
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("%w: %s", ErrMalformed, strings.Join(msgs, "; "))
	}
	if resp.Data == nil || resp.Data.Schema == nil {
		return nil, fmt.Errorf("%w: missing __schema", ErrMalformed)
	}
	return fromSchemaResult(resp.Data.Schema)
}

func fromSchemaResult(res *schemaResult) (*schema.Schema, error) {
	if res.QueryType == nil || res.QueryType.Name == "" {
		return nil, fmt.Errorf("%w: missing query type", ErrMalformed)
	}
	s := schema.NewSchemaWithBuiltins("")
	s.SetQueryType(res.QueryType.Name)
	if res.MutationType != nil {
		s.SetMutationType(res.MutationType.Name)
	}
	if res.SubscriptionType != nil {
		s.SetSubscriptionType(res.SubscriptionType.Name)
	}

	for _, ft := range res.Types {
		if ft.Name == "" {
			return nil, fmt.Errorf("%w: type without name", ErrMalformed)
		}
		if strings.HasPrefix(ft.Name, "__") || schema.IsBuiltinScalar(ft.Name) {
			continue
		}
		t, err := convertType(ft)
		if err != nil {
			return nil, err
		}
		s.AddType(t)
	}
	if s.GetQueryType() == nil {
		return nil, fmt.Errorf("%w: query type %q not listed", ErrMalformed, res.QueryType.Name)
	}

	for _, d := range res.Directives {
		if schema.IsBuiltinDirective(d.Name) {
			continue
		}
		dir := schema.NewDirective(d.Name, deref(d.Description)).SetRepeatable(d.IsRepeatable)
		dir.Locations = append(dir.Locations, d.Locations...)
		for _, a := range d.Args {
			iv, err := convertInputValue(a)
			if err != nil {
				return nil, err
			}
			dir.AddArgument(iv)
		}
		s.AddDirective(dir)
	}
	return s, nil
}

func convertType(ft fullType) (*schema.Type, error) {
	kind := schema.TypeKind(ft.Kind)
	switch kind {
	case schema.TypeKindScalar, schema.TypeKindObject, schema.TypeKindInterface,
		schema.TypeKindUnion, schema.TypeKindEnum, schema.TypeKindInputObject:
	default:
		return nil, fmt.Errorf("%w: type %s has unknown kind %q", ErrMalformed, ft.Name, ft.Kind)
	}
	t := schema.NewType(ft.Name, kind, deref(ft.Description))
	if ft.SpecifiedByURL != nil {
		t.SetSpecifiedByURL(*ft.SpecifiedByURL)
	}
	for _, f := range ft.Fields {
		ref, err := convertTypeRef(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", ft.Name, f.Name, err)
		}
		out := schema.NewField(f.Name, deref(f.Description), ref)
		if f.IsDeprecated {
			out.Deprecate(deref(f.DeprecationReason))
		}
		for _, a := range f.Args {
			iv, err := convertInputValue(a)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ft.Name, f.Name, err)
			}
			out.AddArgument(iv)
		}
		t.AddField(out)
	}
	for _, a := range ft.InputFields {
		iv, err := convertInputValue(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft.Name, err)
		}
		t.AddInputField(iv)
	}
	for _, i := range ft.Interfaces {
		if i.Name != nil {
			t.AddInterface(*i.Name)
		}
	}
	for _, p := range ft.PossibleTypes {
		if p.Name != nil {
			t.AddPossibleType(*p.Name)
		}
	}
	for _, ev := range ft.EnumValues {
		v := schema.NewEnumValue(ev.Name, deref(ev.Description))
		if ev.IsDeprecated {
			v.Deprecate(deref(ev.DeprecationReason))
		}
		t.AddEnumValue(v)
	}
	return t, nil
}

func convertInputValue(iv inputValue) (*schema.InputValue, error) {
	ref, err := convertTypeRef(iv.Type)
	if err != nil {
		return nil, fmt.Errorf("argument %s: %w", iv.Name, err)
	}
	out := schema.NewInputValue(iv.Name, deref(iv.Description), ref)
	if iv.DefaultValue != nil {
		v, err := parseDefaultValue(*iv.DefaultValue)
		if err != nil {
			return nil, fmt.Errorf("%w: default value of %s: %v", ErrMalformed, iv.Name, err)
		}
		out.SetDefault(v)
	}
	return out, nil
}

func convertTypeRef(ref *typeRef) (*schema.TypeRef, error) {
	if ref == nil {
		return nil, fmt.Errorf("%w: missing type reference", ErrMalformed)
	}
	switch ref.Kind {
	case "NON_NULL":
		inner, err := convertTypeRef(ref.OfType)
		if err != nil {
			return nil, err
		}
		return schema.NonNullType(inner), nil
	case "LIST":
		inner, err := convertTypeRef(ref.OfType)
		if err != nil {
			return nil, err
		}
		return schema.ListType(inner), nil
	default:
		if ref.Name == nil || *ref.Name == "" {
			return nil, fmt.Errorf("%w: named type reference without name", ErrMalformed)
		}
		return schema.NamedType(*ref.Name), nil
	}
}

// parseDefaultValue reads a default value printed in GraphQL literal syntax
// by wrapping it in a throwaway query.
func parseDefaultValue(literal string) (any, error) {
	doc, err := language.ParseQuery("{ f(v: " + literal + ") }")
	if err != nil {
		return nil, err
	}
	f, ok := doc.Operations[0].SelectionSet[0].(*language.Field)
	if !ok || len(f.Arguments) != 1 {
		return nil, errors.New("unexpected literal")
	}
	return schema.ValueFromAST(f.Arguments[0].Value)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
