package sandbox

import (
	"fmt"
	"sync"
)

// Fenced is a multi-tenant DriverSandbox pool keyed by an integer driver
// id: each id gets its own independent Sandbox instance, so one tenant's
// load/call traffic can never observe another's driver state (spec.md
// §4.4 fenced variant).
type Fenced struct {
	mu        sync.RWMutex
	instances map[int]*Sandbox
}

// NewFenced creates an empty fenced pool.
func NewFenced() *Fenced {
	return &Fenced{instances: make(map[int]*Sandbox)}
}

// instance returns (creating if necessary) the Sandbox for id.
func (f *Fenced) instance(id int) *Sandbox {
	f.mu.RLock()
	s, ok := f.instances[id]
	f.mu.RUnlock()
	if ok {
		return s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.instances[id]; ok {
		return s
	}
	s = New()
	f.instances[id] = s
	return s
}

// Load replaces the driver set for id.
func (f *Fenced) Load(id int, code string) error {
	return f.instance(id).Load(code)
}

// Call invokes functionName against id's sandbox.
func (f *Fenced) Call(id int, functionName, paramsJSON string) (string, error) {
	return f.instance(id).Call(functionName, paramsJSON)
}

// Encode is the fenced equivalent of Sandbox.Encode.
func (f *Fenced) Encode(id int, functionName, paramsJSON string) ([]byte, error) {
	return f.instance(id).Encode(functionName, paramsJSON)
}

// Decode is the fenced equivalent of Sandbox.Decode.
func (f *Fenced) Decode(id int, functionName string, frame []byte) (string, error) {
	return f.instance(id).Decode(functionName, frame)
}

// Drop discards id's sandbox instance entirely, releasing its driver state.
func (f *Fenced) Drop(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; !ok {
		return fmt.Errorf("sandbox: fenced id %d not found", id)
	}
	delete(f.instances, id)
	return nil
}
