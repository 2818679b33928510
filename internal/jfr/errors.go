package jfr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the registry, builder, pools and chunk writer.
// Callers match them with errors.Is; the wrapping error carries the detail.
var (
	// ErrUnresolvedType is a state violation: a placeholder type was used
	// before the type it names was registered and resolved.
	ErrUnresolvedType = errors.New("jfr: type is not resolved")

	// ErrTypeNotFound is returned by a required lookup of an undeclared type.
	ErrTypeNotFound = errors.New("jfr: type not found")

	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("jfr: type already registered")

	// ErrDuplicateField is returned when a type declares the same field twice.
	ErrDuplicateField = errors.New("jfr: field already declared")

	// ErrTypeMismatch is returned when a value is not accepted by the
	// declared type or array-ness of the field it is written to.
	ErrTypeMismatch = errors.New("jfr: value not accepted by type")

	// ErrUnknownField is returned when a builder writes a field its type
	// does not declare.
	ErrUnknownField = errors.New("jfr: field not declared on type")

	// ErrNotEvent is returned when a non-event value is written as an event.
	ErrNotEvent = errors.New("jfr: not an event type")

	// ErrMissingField is returned when a field required by the output
	// format (the event start time) was never set.
	ErrMissingField = errors.New("jfr: required field not set")

	// ErrNotPooled is returned when a value is put into a constant pool for
	// a type that does not use one.
	ErrNotPooled = errors.New("jfr: type has no constant pool")

	// ErrChunkState is a state violation on the chunk lifecycle.
	ErrChunkState = errors.New("jfr: chunk is not open")

	// ErrUnresolvedAtFinalize aborts a dump when a referenced type was
	// never declared.
	ErrUnresolvedAtFinalize = errors.New("jfr: referenced type never declared")

	// ErrMalformed is returned by the decoder for truncated or invalid input.
	ErrMalformed = errors.New("jfr: malformed chunk")
)

// UnresolvedError reports use of a placeholder type that is still unbound.
// It is both returned by value-producing methods and used as the panic value
// of metadata accessors on an unresolved ResolvableType.
type UnresolvedError struct {
	Name string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("jfr: type %q is not resolved", e.Name)
}

// Unwrap lets errors.Is(err, ErrUnresolvedType) match.
func (e *UnresolvedError) Unwrap() error { return ErrUnresolvedType }

// BuildError locates a failed field write inside a nested value build.
// Path uses dotted field names with array positions, e.g.
// "stackTrace.frames[1].method.name".
type BuildError struct {
	Type string
	Path string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("jfr: build %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("jfr: build %s: field %s: %v", e.Type, e.Path, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// unresolvedAtFinalize formats the list of names still unbound at dump time.
func unresolvedAtFinalize(names []string) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedAtFinalize, strings.Join(names, ", "))
}
