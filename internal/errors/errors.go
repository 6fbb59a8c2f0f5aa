// Package errors is a drop-in replacement for the standard errors package
// that adds categorised, component-tagged errors which can be forwarded to
// an error reporter (Sentry in production).
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
)

// Standard library pass-throughs so callers only import one errors package.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Join   = stderrors.Join
	Unwrap = stderrors.Unwrap
)

// New returns a plain error, identical to the standard errors.New.
func New(text string) error {
	return stderrors.New(text)
}

// Category groups errors by the subsystem that produced them.
type Category string

const (
	CategoryDatabase      Category = "database"
	CategoryNetwork       Category = "network"
	CategoryValidation    Category = "validation"
	CategoryNotification  Category = "notification"
	CategoryConfiguration Category = "configuration"
	CategoryInternal      Category = "internal"
)

// EnhancedError carries a component, category and context alongside the
// wrapped error.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.component, e.Err.Error())
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// Component returns the component that raised the error.
func (e *EnhancedError) Component() string { return e.component }

// Category returns the error category.
func (e *EnhancedError) Category() Category { return e.category }

// Context returns a copy of the attached context.
func (e *EnhancedError) Context() map[string]any {
	return maps.Clone(e.context)
}

// Builder assembles an EnhancedError.
type Builder struct {
	err *EnhancedError
}

// Wrap starts building an enhanced error around err.
func Wrap(err error) *Builder {
	return &Builder{err: &EnhancedError{Err: err, category: CategoryInternal}}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *Builder {
	return Wrap(fmt.Errorf(format, args...))
}

func (b *Builder) Component(name string) *Builder {
	b.err.component = name
	return b
}

func (b *Builder) Category(c Category) *Builder {
	b.err.category = c
	return b
}

func (b *Builder) Context(key string, value any) *Builder {
	if b.err.context == nil {
		b.err.context = make(map[string]any)
	}
	b.err.context[key] = value
	return b
}

// Build returns the assembled error. Wrapping a nil error yields nil.
func (b *Builder) Build() error {
	if b.err.Err == nil {
		return nil
	}
	return b.err
}

// CategoryOf returns the category of the first EnhancedError in err's chain,
// or CategoryInternal when there is none.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryInternal
}

// ComponentOf returns the component of the first EnhancedError in err's chain.
func ComponentOf(err error) string {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.component
	}
	return ""
}

// Describe renders an error with its context for log lines.
func Describe(err error) string {
	var ee *EnhancedError
	if !As(err, &ee) || len(ee.context) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(ee.context))
	for k, v := range ee.context {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s [%s]", err.Error(), strings.Join(parts, " "))
}
