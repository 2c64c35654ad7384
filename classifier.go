package lucid

import (
	"fmt"
	"sort"
	"sync"
)

// SigningMethods is the compatibility baseline of wallet methods treated as
// signing or transaction requests. Order is informational only.
var SigningMethods = []string{
	"eth_signTransaction",
	"eth_sendTransaction",
	"eth_sign",
	"personal_sign",
	"eth_signTypedData",
	"eth_signTypedData_v1",
	"eth_signTypedData_v3",
	"eth_signTypedData_v4",
	"wallet_sendTransaction",
	"wallet_signTransaction",
	"wallet_sign",
	"wallet_signTypedData",
}

// IsSigningMethod reports whether method belongs to SigningMethods
func IsSigningMethod(method string) bool {
	_, ok := signingMethodSet[method]
	return ok
}

var signingMethodSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(SigningMethods))
	for _, m := range SigningMethods {
		set[m] = struct{}{}
	}
	return set
}()

// MethodRegistry maps signing method names to the extractor that understands
// their payload. A signing method without an extractor is unsupported.
type MethodRegistry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewMethodRegistry creates an empty registry
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{extractors: make(map[string]Extractor)}
}

// Register installs an extractor for a signing method
func (r *MethodRegistry) Register(method string, extractor Extractor) error {
	if !IsSigningMethod(method) {
		return fmt.Errorf("%w: %s", ErrNotSigningMethod, method)
	}
	if extractor == nil {
		return fmt.Errorf("nil extractor for %s", method)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[method] = extractor
	return nil
}

// Lookup returns the extractor registered for method
func (r *MethodRegistry) Lookup(method string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[method]
	return e, ok
}

// Classify decides what kind of request a method name denotes
func (r *MethodRegistry) Classify(method string) RequestKind {
	if !IsSigningMethod(method) {
		return NotSigning
	}
	if _, ok := r.Lookup(method); ok {
		return SigningSupported
	}
	return SigningUnsupported
}

// Supported returns the sorted list of methods with a registered extractor
func (r *MethodRegistry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.extractors))
	for m := range r.extractors {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
