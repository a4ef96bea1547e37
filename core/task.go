package core

import (
	"context"
	"fmt"
)

// =============================================================================
// Args: positional and keyed arguments of an invocation
// =============================================================================

// Args carries the arguments of one task invocation.
type Args struct {
	Positional []any
	Named      map[string]any
}

// NewArgs creates Args holding the given positional values.
func NewArgs(positional ...any) Args {
	return Args{Positional: positional}
}

// With returns a copy of a with key bound to value.
func (a Args) With(key string, value any) Args {
	named := make(map[string]any, len(a.Named)+1)
	for k, v := range a.Named {
		named[k] = v
	}
	named[key] = value
	return Args{Positional: a.Positional, Named: named}
}

// Prepend returns a copy of a with v as the first positional argument.
func (a Args) Prepend(v any) Args {
	positional := make([]any, 0, len(a.Positional)+1)
	positional = append(positional, v)
	positional = append(positional, a.Positional...)
	return Args{Positional: positional, Named: a.Named}
}

// Arg returns the i-th positional argument as T.
func Arg[T any](args Args, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args.Positional) {
		return zero, fmt.Errorf("%w: missing positional argument %d", ErrArgument, i)
	}
	v, ok := args.Positional[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: positional argument %d is %T, want %T", ErrArgument, i, args.Positional[i], zero)
	}
	return v, nil
}

// NamedArg returns the keyed argument as T.
func NamedArg[T any](args Args, key string) (T, error) {
	var zero T
	raw, ok := args.Named[key]
	if !ok {
		return zero, fmt.Errorf("%w: missing argument %q", ErrArgument, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %q is %T, want %T", ErrArgument, key, raw, zero)
	}
	return v, nil
}

// NamedArgOr returns the keyed argument as T, or fallback when it is absent.
func NamedArgOr[T any](args Args, key string, fallback T) (T, error) {
	if _, ok := args.Named[key]; !ok {
		return fallback, nil
	}
	return NamedArg[T](args, key)
}

// =============================================================================
// Invoker: the task executor capability
// =============================================================================

// Invoker is one implementation of a task. It may run in-process or hand the
// call to a worker substrate; the router only sees the call shape.
type Invoker interface {
	Invoke(ctx context.Context, args Args) (any, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, args Args) (any, error)

// Invoke calls f(ctx, args).
func (f InvokerFunc) Invoke(ctx context.Context, args Args) (any, error) {
	return f(ctx, args)
}
