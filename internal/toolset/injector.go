package toolset

import (
	"fmt"
	"reflect"
	"sync"
)

// Injector is a type-keyed dependency bag, built once from a Runtime and
// handed to every tool Factory so each declares exactly the dependencies
// it needs (filesystem, work directory, session, approval mediator, ...)
// instead of threading a growing parameter list through every
// constructor.
type Injector struct {
	mu     sync.RWMutex
	values map[reflect.Type]any
}

// NewInjector creates an empty Injector.
func NewInjector() *Injector {
	return &Injector{values: make(map[reflect.Type]any)}
}

// Provide registers v under its own type, overwriting any prior value of
// that type.
func Provide[T any](inj *Injector, v T) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.values[reflect.TypeOf((*T)(nil)).Elem()] = v
}

// Get resolves a value of type T, returning ok=false if none was
// provided.
func Get[T any](inj *Injector) (T, bool) {
	inj.mu.RLock()
	defer inj.mu.RUnlock()
	var zero T
	v, ok := inj.values[reflect.TypeOf((*T)(nil)).Elem()]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// MustGet resolves a value of type T, panicking with a descriptive
// message if it wasn't provided — used inside tool Factory functions
// where a missing dependency is a wiring bug, not a runtime condition to
// recover from.
func MustGet[T any](inj *Injector) T {
	v, ok := Get[T](inj)
	if !ok {
		var zero T
		panic(fmt.Sprintf("toolset: no dependency provided for %T", zero))
	}
	return v
}
