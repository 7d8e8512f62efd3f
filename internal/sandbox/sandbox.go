// Package sandbox implements the DriverSandbox: a single-threaded
// interpreter of trusted JavaScript driver scripts that convert between
// JSON parameters/results and DPA frame bytes, with no I/O capability.
package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

var (
	// ErrLoad wraps any parse/evaluation failure from Load; the previous
	// driver set is left intact.
	ErrLoad = errors.New("sandbox: driver load error")
	// ErrNotFound is returned by Call when functionName does not resolve
	// to a callable in the evaluated object graph.
	ErrNotFound = errors.New("sandbox: driver function not found")
	// ErrRuntime wraps a thrown exception from driver code.
	ErrRuntime = errors.New("sandbox: driver runtime error")
	// ErrReentrant is returned when Call is invoked while the sandbox is
	// already executing a call on the same goroutine path.
	ErrReentrant = errors.New("sandbox: reentrant call rejected")
)

// Sandbox is a single JavaScript VM instance. Not safe for concurrent use
// by design: callers serialize access through the internal mutex, matching
// the "single dedicated worker per instance" model in spec.md §4.4.
type Sandbox struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	loaded  bool
	calling bool
}

// New creates an empty, unloaded Sandbox.
func New() *Sandbox {
	return &Sandbox{vm: newRuntime()}
}

// newRuntime builds a goja runtime with no filesystem, network, timer or
// random-number capability: driver code gets only ECMAScript builtins plus
// JSON.
func newRuntime() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	return vm
}

// Load replaces the current driver set by evaluating code. On failure the
// previous set remains active and ErrLoad is returned.
func (s *Sandbox) Load(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := newRuntime()
	if _, err := candidate.RunString(code); err != nil {
		return fmt.Errorf("%w: %s", ErrLoad, err)
	}
	s.vm = candidate
	s.loaded = true
	return nil
}

// Call resolves the dot-separated path functionName in the evaluated
// object graph and invokes it with paramsJson decoded into arguments,
// returning the JSON-encoded result.
func (s *Sandbox) Call(functionName string, paramsJSON string) (string, error) {
	s.mu.Lock()
	if s.calling {
		s.mu.Unlock()
		return "", ErrReentrant
	}
	s.calling = true
	defer func() {
		s.calling = false
		s.mu.Unlock()
	}()

	if !s.loaded {
		return "", fmt.Errorf("%w: %s (no driver loaded)", ErrNotFound, functionName)
	}

	fn, err := resolvePath(s.vm, functionName)
	if err != nil {
		return "", err
	}

	var params any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return "", fmt.Errorf("sandbox: invalid params json: %w", err)
		}
	}

	result, err := callValue(s.vm, fn, params)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("sandbox: result not json-serializable: %w", err)
	}
	return string(out), nil
}

// resolvePath walks a dot-separated path ("driver.Sensor.Decode") through
// the global object graph, failing with ErrNotFound if any segment (or the
// final value) is absent or not callable.
func resolvePath(vm *goja.Runtime, path string) (goja.Callable, error) {
	segments := strings.Split(path, ".")
	var current goja.Value = vm.GlobalObject()

	for i, seg := range segments {
		obj := current.ToObject(vm)
		if obj == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		next := obj.Get(seg)
		if next == nil || goja.IsUndefined(next) {
			return nil, fmt.Errorf("%w: %s (missing at %q)", ErrNotFound, path, seg)
		}
		current = next
		if i == len(segments)-1 {
			fn, ok := goja.AssertFunction(current)
			if !ok {
				return nil, fmt.Errorf("%w: %s (not callable)", ErrNotFound, path)
			}
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// callValue invokes fn with params as its single argument, translating any
// thrown exception into ErrRuntime.
func callValue(vm *goja.Runtime, fn goja.Callable, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrRuntime, r)
		}
	}()

	arg := vm.ToValue(params)
	v, callErr := fn(goja.Undefined(), arg)
	if callErr != nil {
		var jsErr *goja.Exception
		if errors.As(callErr, &jsErr) {
			return nil, fmt.Errorf("%w: %s", ErrRuntime, jsErr.Value().String())
		}
		return nil, fmt.Errorf("%w: %s", ErrRuntime, callErr)
	}
	return v.Export(), nil
}
