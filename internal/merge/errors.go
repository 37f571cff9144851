package merge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateSchema        = errors.New("duplicate schema")
	ErrTypeCollision          = errors.New("type collision")
	ErrRootFieldCollision     = errors.New("root field collision")
	ErrUnknownExtensionTarget = errors.New("unknown extension target")
	ErrInvalidFragment        = errors.New("invalid fragment")
	ErrInvalidExtension       = errors.New("invalid extension")
)

// DuplicateSchemaError reports two distinct descriptors sharing a name.
type DuplicateSchemaError struct {
	Name string
}

func (e *DuplicateSchemaError) Error() string {
	return fmt.Sprintf("schema %q is registered twice with different definitions", e.Name)
}

func (e *DuplicateSchemaError) Is(target error) bool { return target == ErrDuplicateSchema }

// TypeCollisionError reports a type name defined with incompatible shapes.
type TypeCollisionError struct {
	TypeName string
	Schemas  []string
	Reason   string
}

func (e *TypeCollisionError) Error() string {
	return fmt.Sprintf("type %s is defined incompatibly by schemas %s: %s",
		e.TypeName, strings.Join(e.Schemas, ", "), e.Reason)
}

func (e *TypeCollisionError) Is(target error) bool { return target == ErrTypeCollision }

// RootFieldCollisionError reports a root field defined by more than one schema.
type RootFieldCollisionError struct {
	Operation string
	Field     string
	Schemas   []string
}

func (e *RootFieldCollisionError) Error() string {
	return fmt.Sprintf("%s field %s is defined by schemas %s", e.Operation, e.Field, strings.Join(e.Schemas, ", "))
}

func (e *RootFieldCollisionError) Is(target error) bool { return target == ErrRootFieldCollision }

// UnknownExtensionTargetError reports an extension referring to a type that
// no schema defines. Kind says which reference is dangling.
type UnknownExtensionTargetError struct {
	TypeName  string
	FieldName string
	Kind      string
	Missing   string
}

func (e *UnknownExtensionTargetError) Error() string {
	return fmt.Sprintf("extension %s.%s: unknown %s %s", e.TypeName, e.FieldName, e.Kind, e.Missing)
}

func (e *UnknownExtensionTargetError) Is(target error) bool { return target == ErrUnknownExtensionTarget }

// InvalidFragmentError reports a required fragment path that does not select
// a leaf field owned by the extended type.
type InvalidFragmentError struct {
	TypeName  string
	FieldName string
	Path      string
	Reason    string
}

func (e *InvalidFragmentError) Error() string {
	return fmt.Sprintf("extension %s.%s: fragment path %q %s", e.TypeName, e.FieldName, e.Path, e.Reason)
}

func (e *InvalidFragmentError) Is(target error) bool { return target == ErrInvalidFragment }

// InvalidExtensionError reports an extension that cannot be attached for
// reasons other than a missing type.
type InvalidExtensionError struct {
	TypeName  string
	FieldName string
	Reason    string
}

func (e *InvalidExtensionError) Error() string {
	return fmt.Sprintf("extension %s.%s: %s", e.TypeName, e.FieldName, e.Reason)
}

func (e *InvalidExtensionError) Is(target error) bool { return target == ErrInvalidExtension }
