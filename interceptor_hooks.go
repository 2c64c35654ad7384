package lucid

import (
	"context"
	"time"
)

// ============================================================================
// Interceptor Hook Context Types
// ============================================================================

// InterceptContext is passed to intercept hooks for every signing call a
// wrapped provider sees
type InterceptContext struct {
	Ctx         context.Context
	Provider    string
	Method      string
	Kind        RequestKind
	Fingerprint string
	// Duplicate is true when an identical call was already in flight and
	// submission was skipped
	Duplicate bool
	Timestamp time.Time
}

// SubmitContext describes one pipeline run
type SubmitContext struct {
	Ctx       context.Context
	Call      InterceptedCall
	Timestamp time.Time
}

// SubmitResultContext contains a successful submission
type SubmitResultContext struct {
	SubmitContext
	Transaction NormalizedTransaction
	Duration    time.Duration
}

// SubmitFailureContext contains a failed pipeline run. Stage is one of
// "extract", "submit" or "panic".
type SubmitFailureContext struct {
	SubmitContext
	Stage    string
	Error    error
	Duration time.Duration
}

// ============================================================================
// Interceptor Hook Function Types
// ============================================================================

// OnInterceptHook is called for every signing call, supported or not.
// Any error returned will be logged but will not affect the call.
type OnInterceptHook func(InterceptContext) error

// AfterSubmitHook is called after a transaction reached the relay server.
// Any error returned will be logged.
type AfterSubmitHook func(SubmitResultContext) error

// OnSubmitFailureHook is called when extraction or submission fails.
// Any error returned will be logged.
type OnSubmitFailureHook func(SubmitFailureContext) error

// ============================================================================
// Interceptor Hook Registration Options
// ============================================================================

// WithOnInterceptHook registers a hook to execute for every signing call
func WithOnInterceptHook(hook OnInterceptHook) InterceptorOption {
	return func(i *Interceptor) {
		i.onInterceptHooks = append(i.onInterceptHooks, hook)
	}
}

// WithAfterSubmitHook registers a hook to execute after a successful submission
func WithAfterSubmitHook(hook AfterSubmitHook) InterceptorOption {
	return func(i *Interceptor) {
		i.afterSubmitHooks = append(i.afterSubmitHooks, hook)
	}
}

// WithOnSubmitFailureHook registers a hook to execute when a pipeline run fails
func WithOnSubmitFailureHook(hook OnSubmitFailureHook) InterceptorOption {
	return func(i *Interceptor) {
		i.onSubmitFailureHooks = append(i.onSubmitFailureHooks, hook)
	}
}

func (i *Interceptor) fireIntercept(hc InterceptContext) {
	for _, hook := range i.onInterceptHooks {
		i.safeHook("intercept", func() error { return hook(hc) })
	}
}

func (i *Interceptor) fireAfterSubmit(hc SubmitResultContext) {
	for _, hook := range i.afterSubmitHooks {
		i.safeHook("after_submit", func() error { return hook(hc) })
	}
}

func (i *Interceptor) fireSubmitFailure(hc SubmitFailureContext) {
	for _, hook := range i.onSubmitFailureHooks {
		i.safeHook("submit_failure", func() error { return hook(hc) })
	}
}

// safeHook runs a hook, logging its error or panic
func (i *Interceptor) safeHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Str("hook", name).Interface("panic", r).Msg("hook panicked")
		}
	}()
	if err := fn(); err != nil {
		i.logger.Warn().Str("hook", name).Err(err).Msg("hook failed")
	}
}
