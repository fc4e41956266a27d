// Package controller is the declarative registration surface: instead of
// calling Registry.RegisterRequest/RegisterEvent by hand, a caller defines a
// struct whose Patterns method describes which of its own exported methods
// to mount, and controller.Export binds them into a fresh Registry.
//
// It descends from the teacher's reflection-based service/methodType pair
// in server/service.go, which scanned a receiver's methods for the
// net/rpc-style `func(*Args, *Reply) error` shape. Business handlers here
// have a fixed shape (func(context.Context, any) (any, error) — see package
// registry) so binding no longer needs per-method reflect.Call plumbing: a
// bound method value is type-asserted directly against that shape.
package controller

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"rpcmux/message"
	"rpcmux/registry"
)

// MethodSpec names one exported method to mount, the pattern to mount it
// under, whether it is a request or event handler, and any middleware
// scoped to that pattern alone.
type MethodSpec struct {
	Pattern    string
	Kind       message.PatternType
	MethodName string
	Middleware []registry.Middleware
}

// Annotated is implemented by controller structs. Patterns is called once
// per concrete type (see describe) to build the class-level method table;
// it must not depend on instance state, since the same table is reused
// across every Export of that type.
type Annotated interface {
	Patterns() []MethodSpec
}

var classTable = struct {
	mu    sync.Mutex
	specs map[reflect.Type][]MethodSpec
}{specs: make(map[reflect.Type][]MethodSpec)}

// describe returns a's method table, scanning it once per concrete type and
// caching the result — multiple exports of the same struct type reuse one
// scan.
func describe(a Annotated) []MethodSpec {
	t := reflect.TypeOf(a)

	classTable.mu.Lock()
	defer classTable.mu.Unlock()
	if specs, ok := classTable.specs[t]; ok {
		return specs
	}
	specs := a.Patterns()
	classTable.specs[t] = specs
	return specs
}

// Export binds instance's annotated methods into a fresh Registry, bound to
// this specific instance. Two instances of the same struct produce fully
// independent registries — binding happens per export, not once per class.
func Export(instance Annotated) (*registry.Registry, error) {
	specs := describe(instance)
	reg := registry.New()
	val := reflect.ValueOf(instance)
	typeName := reflect.TypeOf(instance).String()

	for _, spec := range specs {
		method := val.MethodByName(spec.MethodName)
		if !method.IsValid() {
			return nil, fmt.Errorf("controller: %s has no method %s", typeName, spec.MethodName)
		}

		handler, ok := method.Interface().(func(context.Context, any) (any, error))
		if !ok {
			return nil, fmt.Errorf("controller: %s.%s does not have signature func(context.Context, any) (any, error)", typeName, spec.MethodName)
		}

		switch spec.Kind {
		case message.Request:
			reg.RegisterRequest(spec.Pattern, handler)
		case message.Event:
			reg.RegisterEvent(spec.Pattern, handler)
		default:
			return nil, fmt.Errorf("controller: %s.%s declares invalid kind %v", typeName, spec.MethodName, spec.Kind)
		}
		if len(spec.Middleware) > 0 {
			reg.UseForPattern(spec.Pattern, spec.Middleware...)
		}
	}
	return reg, nil
}
