package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	language "github.com/hanpama/stitchgraph/internal/language"
	schema "github.com/hanpama/stitchgraph/internal/schema"
)

var errNullForNonNull = errors.New("cannot provide null for non-null type")

// coerceVariableValues applies defaults and input coercion to the supplied
// variables. Keys may be given with or without the leading "$".
func coerceVariableValues(s *schema.Schema, op *language.OperationDefinition, supplied map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(op.VariableDefinitions))
	for _, def := range op.VariableDefinitions {
		name, t := def.Variable, def.Type
		val, ok := lookupVariable(supplied, name)
		switch {
		case ok:
		case def.DefaultValue != nil:
			val = astValueToGo(def.DefaultValue)
		case t.NonNull:
			return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
		default:
			continue
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := coerceValue(s, val, schema.TypeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		out[name] = cv
	}
	return out, nil
}

func lookupVariable(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	v, ok := vars[strings.TrimPrefix(name, "$")]
	return v, ok
}

// coerceArguments resolves the arguments of one field occurrence. Problems
// are recorded at path and the argument is left out.
func (r *run) coerceArguments(def *schema.Field, args language.ArgumentList, path Path) map[string]any {
	out := make(map[string]any, len(def.Arguments))
	for _, arg := range args {
		argDef := def.GetArgument(arg.Name)
		if argDef == nil {
			continue
		}
		cv, err := coerceValue(r.schema, valueFromAST(arg.Value, r.variables), argDef.Type)
		if err != nil {
			r.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err), path)
			continue
		}
		out[arg.Name] = cv
	}
	for _, argDef := range def.Arguments {
		if _, ok := out[argDef.Name]; ok {
			continue
		}
		switch {
		case argDef.DefaultValue != nil:
			out[argDef.Name] = coerceDefault(r.schema, argDef)
		case schema.IsNonNull(argDef.Type):
			r.addError(fmt.Sprintf("argument '%s' of required type was not provided", argDef.Name), path)
		}
	}
	return out
}

// coerceDefault returns the schema default of iv coerced to its type. A
// default that does not coerce is returned as written.
func coerceDefault(s *schema.Schema, iv *schema.InputValue) any {
	v := plainDefault(iv.DefaultValue)
	if cv, err := coerceValue(s, v, iv.Type); err == nil {
		return cv
	}
	return v
}

// plainDefault turns enum literals in a schema default into strings.
func plainDefault(v any) any {
	switch v := v.(type) {
	case schema.EnumLiteral:
		return string(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plainDefault(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plainDefault(item)
		}
		return out
	}
	return v
}

// valueFromAST converts a literal, substituting variables. Variables nested
// in lists and objects are substituted too.
func valueFromAST(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		val, _ := lookupVariable(vars, v.Raw)
		return val
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = valueFromAST(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			out[c.Name] = valueFromAST(c.Value, vars)
		}
		return out
	}
	return astValueToGo(v)
}

func astValueToGo(v *language.Value) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.IntValue:
		n, _ := strconv.Atoi(v.Raw)
		return n
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue, language.ObjectValue:
		return valueFromAST(v, nil)
	}
	return nil
}

// coerceValue coerces an input value to typ. Built-in scalars are
// normalised and input objects are checked field by field against s;
// custom scalars and enums pass through.
func coerceValue(s *schema.Schema, value any, typ *schema.TypeRef) (any, error) {
	if schema.IsNonNull(typ) {
		if value == nil {
			return nil, errNullForNonNull
		}
		return coerceValue(s, value, schema.Unwrap(typ))
	}
	if value == nil {
		return nil, nil
	}
	if schema.IsList(typ) {
		inner := schema.Unwrap(typ)
		items, ok := value.([]any)
		if !ok {
			// A single value is accepted as a list of one.
			items = []any{value}
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := coerceValue(s, item, inner)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}

	name := schema.GetNamedType(typ)
	if s != nil {
		if t := s.Types[name]; t != nil && t.Kind == schema.TypeKindInputObject {
			return coerceInputObject(s, t, value)
		}
	}
	switch name {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to boolean", value, value)
	case "ID":
		return coerceID(value), nil
	}
	return value, nil
}

func coerceInputObject(s *schema.Schema, t *schema.Type, value any) (any, error) {
	in, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
	}
	out := make(map[string]any, len(in))
	for key := range in {
		if t.GetInputField(key) == nil {
			return nil, fmt.Errorf("unknown field '%s' for %s", key, t.Name)
		}
	}
	for _, f := range t.InputFields {
		v, ok := in[f.Name]
		if !ok {
			switch {
			case f.DefaultValue != nil:
				out[f.Name] = coerceDefault(s, f)
			case schema.IsNonNull(f.Type):
				return nil, fmt.Errorf("required field '%s' of %s was not provided", f.Name, t.Name)
			}
			continue
		}
		cv, err := coerceValue(s, v, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s' of %s: %w", f.Name, t.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case float32:
		return int(v), nil
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to int", value, value)
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to float", value, value)
}

func coerceID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	}
	return fmt.Sprint(value)
}
