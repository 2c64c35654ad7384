// Package page models the host page a wallet monitor runs inside: the global
// object, the attribute slots wallet extensions populate, and the generic
// "something changed" signal structural mutations emit.
//
// Wallet extensions inject their provider objects at unpredictable times. The
// Global therefore lets any number of observers subscribe to mutation signals,
// and exposes path lookups (e.g. "phantom", "ethereum") for discovery.
package page

import (
	"context"
	"sync"
)

// Request is the argument of a provider dispatch call.
type Request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

// DispatchFunc is the single asynchronous dispatch method a provider exposes.
type DispatchFunc func(ctx context.Context, req Request) (interface{}, error)

// Object is a mutable attribute bag, the Go stand-in for a page object.
// It is safe for concurrent use.
type Object struct {
	mu    sync.RWMutex
	props map[string]interface{}
}

// NewObject creates an empty object
func NewObject() *Object {
	return &Object{props: make(map[string]interface{})}
}

// Get returns the attribute stored under name
func (o *Object) Get(name string) (interface{}, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.props[name]
	return v, ok
}

// Set stores an attribute
func (o *Object) Set(name string, value interface{}) {
	o.mu.Lock()
	o.props[name] = value
	o.mu.Unlock()
}

// Delete removes an attribute
func (o *Object) Delete(name string) {
	o.mu.Lock()
	delete(o.props, name)
	o.mu.Unlock()
}

// Lookup walks a dotted path of nested objects, e.g. Lookup("phantom", "ethereum").
func (o *Object) Lookup(path ...string) (interface{}, bool) {
	if len(path) == 0 {
		return o, true
	}
	v, ok := o.Get(path[0])
	if !ok || v == nil {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	child, ok := v.(*Object)
	if !ok {
		return nil, false
	}
	return child.Lookup(path[1:]...)
}

// Global is the page global object. Every Set on it, and every explicit
// Notify, is delivered to the registered mutation observers.
type Global struct {
	*Object

	observersMu sync.Mutex
	observers   map[int]chan struct{}
	nextID      int
}

// NewGlobal creates an empty page global
func NewGlobal() *Global {
	return &Global{
		Object:    NewObject(),
		observers: make(map[int]chan struct{}),
	}
}

// Set stores an attribute on the global and signals observers
func (g *Global) Set(name string, value interface{}) {
	g.Object.Set(name, value)
	g.Notify()
}

// Notify emits a structural mutation signal. Signals coalesce: an observer
// that has not drained the previous signal receives only one.
func (g *Global) Notify() {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()
	for _, ch := range g.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Observe registers a mutation observer. The returned func unregisters it;
// the channel is never closed.
func (g *Global) Observe() (<-chan struct{}, func()) {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()

	id := g.nextID
	g.nextID++
	ch := make(chan struct{}, 1)
	g.observers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.observersMu.Lock()
			delete(g.observers, id)
			g.observersMu.Unlock()
		})
	}
}

// ObserverCount reports the number of registered mutation observers
func (g *Global) ObserverCount() int {
	g.observersMu.Lock()
	defer g.observersMu.Unlock()
	return len(g.observers)
}

// SetIfAbsent stores an attribute only if it is not already present and
// reports whether it did.
func (o *Object) SetIfAbsent(name string, value interface{}) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.props[name]; exists {
		return false
	}
	o.props[name] = value
	return true
}
