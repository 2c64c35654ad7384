package page

import (
	"context"
	"fmt"
)

// DispatchProperty is the attribute holding a provider's dispatch method
const DispatchProperty = "request"

// NewProvider builds a provider-shaped object around a dispatch function
func NewProvider(dispatch DispatchFunc) *Object {
	o := NewObject()
	o.Set(DispatchProperty, dispatch)
	return o
}

// ProviderHandle is a typed view of an object that passed the provider
// capability check. The handle never owns the object.
type ProviderHandle struct {
	obj *Object
}

// NotProviderError describes a candidate that failed the capability check
type NotProviderError struct {
	Reason string
}

func (e *NotProviderError) Error() string {
	return fmt.Sprintf("not a provider: %s", e.Reason)
}

// AsProvider checks whether v exposes a callable dispatch method.
func AsProvider(v interface{}) (*ProviderHandle, error) {
	obj, ok := v.(*Object)
	if !ok || obj == nil {
		return nil, &NotProviderError{Reason: fmt.Sprintf("unexpected type %T", v)}
	}
	raw, ok := obj.Get(DispatchProperty)
	if !ok {
		return nil, &NotProviderError{Reason: "missing " + DispatchProperty + " method"}
	}
	if _, ok := asDispatch(raw); !ok {
		return nil, &NotProviderError{Reason: fmt.Sprintf("%s is %T, not a dispatch function", DispatchProperty, raw)}
	}
	return &ProviderHandle{obj: obj}, nil
}

// asDispatch accepts both the named DispatchFunc type and an unconverted
// function literal with the same signature.
func asDispatch(raw interface{}) (DispatchFunc, bool) {
	switch fn := raw.(type) {
	case DispatchFunc:
		return fn, fn != nil
	case func(context.Context, Request) (interface{}, error):
		return fn, fn != nil
	}
	return nil, false
}

// Object returns the underlying page object
func (h *ProviderHandle) Object() *Object {
	return h.obj
}

// Dispatch returns the currently installed dispatch method
func (h *ProviderHandle) Dispatch() DispatchFunc {
	raw, _ := h.obj.Get(DispatchProperty)
	fn, _ := asDispatch(raw)
	return fn
}

// Install replaces the dispatch method on the live object
func (h *ProviderHandle) Install(fn DispatchFunc) {
	h.obj.Set(DispatchProperty, fn)
}

// Marked reports whether the marker attribute is set
func (h *ProviderHandle) Marked(marker string) bool {
	v, ok := h.obj.Get(marker)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Mark sets the marker attribute
func (h *ProviderHandle) Mark(marker string) {
	h.obj.Set(marker, true)
}

// Request invokes the installed dispatch method, the way a dapp would
func (h *ProviderHandle) Request(ctx context.Context, req Request) (interface{}, error) {
	fn := h.Dispatch()
	if fn == nil {
		return nil, fmt.Errorf("provider has no dispatch method")
	}
	return fn(ctx, req)
}
