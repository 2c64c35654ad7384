package lucid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-sec/lucid/go/page"
)

const (
	// InjectedMarker is set on the page global once a monitor runs in the page
	InjectedMarker = "__lucidInjected"

	// InterceptedMarker is set on every provider object whose dispatch is wrapped
	InterceptedMarker = "__lucidIntercepted"

	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollCeiling  = 60 * time.Second

	DefaultNotificationTitle = "Trying to sign ?"
	DefaultNotificationBody  = "Don't forget to simulate your transaction on Lucid before !"
)

// DefaultSlots are the global attribute paths wallet extensions inject into
var DefaultSlots = []string{
	"ethereum",
	"rabby",
	"phantom.ethereum",
	"coinbaseWalletExtension",
}

// DiscoveredProvider is a provider found in a slot that is not yet wrapped
type DiscoveredProvider struct {
	Name   string
	Handle *page.ProviderHandle
}

// Interceptor discovers wallet providers on a page and wraps their dispatch
// method. One Interceptor exists per page.
type Interceptor struct {
	global    *page.Global
	submitter Submitter
	notifier  Notifier
	registry  *MethodRegistry

	processing *ProcessingSet
	cooldown   time.Duration

	slots        []string
	pollInterval time.Duration
	pollCeiling  time.Duration
	title        string
	body         string
	logger       zerolog.Logger

	onInterceptHooks     []OnInterceptHook
	afterSubmitHooks     []AfterSubmitHook
	onSubmitFailureHooks []OnSubmitFailureHook

	// monitorMu serializes marker check and install across discovery triggers
	monitorMu sync.Mutex

	lastMu          sync.Mutex
	lastFingerprint string

	polling   atomic.Bool
	pipelines sync.WaitGroup

	optErrs []error
}

// InterceptorOption configures the interceptor
type InterceptorOption func(*Interceptor)

// WithExtractor registers an extractor for a signing method
func WithExtractor(method string, extractor Extractor) InterceptorOption {
	return func(i *Interceptor) {
		if err := i.registry.Register(method, extractor); err != nil {
			i.optErrs = append(i.optErrs, err)
		}
	}
}

// WithNotifier sets the blocking notification overlay
func WithNotifier(n Notifier) InterceptorOption {
	return func(i *Interceptor) {
		i.notifier = n
	}
}

// WithNotification overrides the overlay title and body
func WithNotification(title, body string) InterceptorOption {
	return func(i *Interceptor) {
		i.title = title
		i.body = body
	}
}

// WithSlots overrides the discovery slots. Nested slots use dots.
func WithSlots(slots ...string) InterceptorOption {
	return func(i *Interceptor) {
		i.slots = slots
	}
}

// WithPollInterval sets the discovery poll interval
func WithPollInterval(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		i.pollInterval = d
	}
}

// WithPollCeiling sets how long discovery polling runs before stopping
func WithPollCeiling(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		i.pollCeiling = d
	}
}

// WithProcessingCooldown also suppresses identical calls for d after the
// previous one was released. Zero keeps in-flight-only de-duplication.
func WithProcessingCooldown(d time.Duration) InterceptorOption {
	return func(i *Interceptor) {
		i.cooldown = d
	}
}

// WithLogger sets the interceptor's logger
func WithLogger(l zerolog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.logger = l
	}
}

// NewInterceptor creates an interceptor for a page. The submitter receives
// every extracted transaction.
func NewInterceptor(global *page.Global, submitter Submitter, opts ...InterceptorOption) (*Interceptor, error) {
	if global == nil {
		return nil, fmt.Errorf("page global is required")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}

	i := &Interceptor{
		global:       global,
		submitter:    submitter,
		registry:     NewMethodRegistry(),
		slots:        DefaultSlots,
		pollInterval: DefaultPollInterval,
		pollCeiling:  DefaultPollCeiling,
		title:        DefaultNotificationTitle,
		body:         DefaultNotificationBody,
		logger:       log.Logger.With().Str("component", "interceptor").Logger(),
	}

	for _, opt := range opts {
		opt(i)
	}
	if len(i.optErrs) > 0 {
		return nil, i.optErrs[0]
	}

	i.processing = NewProcessingSet(i.cooldown)
	return i, nil
}

// RegisterExtractor installs an extractor after construction
func (i *Interceptor) RegisterExtractor(method string, extractor Extractor) error {
	return i.registry.Register(method, extractor)
}

// Registry returns the method registry
func (i *Interceptor) Registry() *MethodRegistry {
	return i.registry
}

// Processing returns the set of in-flight fingerprints
func (i *Interceptor) Processing() *ProcessingSet {
	return i.processing
}

// Start marks the page, runs discovery immediately and keeps discovering on
// a bounded poll and on every structural mutation until ctx is done.
func (i *Interceptor) Start(ctx context.Context) error {
	if !i.global.SetIfAbsent(InjectedMarker, true) {
		return ErrAlreadyInjected
	}

	i.logger.Info().
		Strs("methods", i.registry.Supported()).
		Dur("poll_interval", i.pollInterval).
		Dur("poll_ceiling", i.pollCeiling).
		Msg("monitor injected")

	i.scan("load")

	i.polling.Store(true)
	go i.poll(ctx)

	changes, cancel := i.global.Observe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				i.scan("mutation")
			}
		}
	}()

	return nil
}

// Polling reports whether the bounded discovery poll is still running
func (i *Interceptor) Polling() bool {
	return i.polling.Load()
}

func (i *Interceptor) poll(ctx context.Context) {
	defer i.polling.Store(false)

	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()
	ceiling := time.NewTimer(i.pollCeiling)
	defer ceiling.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ceiling.C:
			i.logger.Debug().Msg("discovery polling stopped")
			return
		case <-ticker.C:
			i.scan("poll")
		}
	}
}

// scan discovers and wraps providers, returning how many were newly wrapped
func (i *Interceptor) scan(trigger string) int {
	wrapped := 0
	for _, p := range i.Discover() {
		if i.Monitor(p.Name, p.Handle) {
			wrapped++
		}
	}
	if wrapped > 0 {
		i.logger.Debug().Str("trigger", trigger).Int("wrapped", wrapped).Msg("discovery pass")
	}
	return wrapped
}

// Discover scans the slots for provider-shaped objects that are not yet
// wrapped. Malformed candidates are skipped.
func (i *Interceptor) Discover() []DiscoveredProvider {
	var found []DiscoveredProvider
	for _, slot := range i.slots {
		v, ok := i.global.Lookup(strings.Split(slot, ".")...)
		if !ok {
			continue
		}
		handle, err := page.AsProvider(v)
		if err != nil {
			i.logger.Debug().
				Str("slot", slot).
				Str("code", ErrCodeDiscovery).
				Err(err).
				Msg("skipping candidate")
			continue
		}
		if handle.Marked(InterceptedMarker) {
			continue
		}
		found = append(found, DiscoveredProvider{Name: slot, Handle: handle})
	}
	return found
}

// Monitor wraps a provider's dispatch method unless it carries the
// intercepted marker. It reports whether it wrapped.
func (i *Interceptor) Monitor(name string, handle *page.ProviderHandle) bool {
	i.monitorMu.Lock()
	defer i.monitorMu.Unlock()

	if handle.Marked(InterceptedMarker) {
		return false
	}
	original := handle.Dispatch()
	if original == nil {
		return false
	}

	handle.Install(i.Wrap(name, original))
	handle.Mark(InterceptedMarker)

	i.logger.Info().Str("provider", name).Msg("monitoring provider")
	return true
}

// Wrap decorates a dispatch method. The returned function always invokes
// original with the caller's arguments and returns its result and error
// unchanged. Signing calls additionally start a detached pipeline.
func (i *Interceptor) Wrap(provider string, original page.DispatchFunc) page.DispatchFunc {
	return func(ctx context.Context, req page.Request) (interface{}, error) {
		if settle := i.observe(ctx, provider, req, original); settle != nil {
			defer settle()
		}
		return original(ctx, req)
	}
}

// observe classifies a call and starts its pipeline. The returned func must
// run once the original dispatch settles. Panics never leave observe.
func (i *Interceptor) observe(ctx context.Context, provider string, req page.Request, original page.DispatchFunc) (settle func()) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Str("method", req.Method).Interface("panic", r).Msg("interception failed")
			settle = nil
		}
	}()

	kind := i.registry.Classify(req.Method)
	if kind == NotSigning {
		return nil
	}

	hc := InterceptContext{
		Ctx:       ctx,
		Provider:  provider,
		Method:    req.Method,
		Kind:      kind,
		Timestamp: time.Now(),
	}

	if kind == SigningUnsupported || len(req.Params) == 0 || req.Params[0] == nil {
		i.logger.Debug().Str("provider", provider).Str("method", req.Method).Msg("unsupported signing request")
		i.fireIntercept(hc)
		return nil
	}

	extractor, _ := i.registry.Lookup(req.Method)
	fp := Fingerprint(req.Method, req.Params)
	hc.Fingerprint = fp
	i.logRequest(provider, req.Method, fp)

	if !i.processing.TryAdd(fp) {
		hc.Duplicate = true
		i.logger.Debug().Str("fingerprint", ShortFingerprint(fp)).Msg("identical request already in flight")
		i.fireIntercept(hc)
		return nil
	}
	i.fireIntercept(hc)

	call := InterceptedCall{
		Provider:    provider,
		Method:      req.Method,
		Params:      req.Params,
		Fingerprint: fp,
		Origin:      original,
	}

	run := &pipelineRun{}
	run.remaining.Store(2)
	i.pipelines.Add(1)
	go i.runPipeline(context.WithoutCancel(ctx), call, extractor, run)

	return func() { i.finish(run, fp) }
}

// pipelineRun joins the original dispatch and the detached pipeline. The
// last of the two to complete releases the fingerprint and hides the overlay.
type pipelineRun struct {
	remaining atomic.Int32
	shown     atomic.Bool
}

func (i *Interceptor) finish(run *pipelineRun, fingerprint string) {
	if run.remaining.Add(-1) != 0 {
		return
	}
	i.processing.Remove(fingerprint)
	if run.shown.Load() {
		i.hideOverlay()
	}
}

func (i *Interceptor) runPipeline(ctx context.Context, call InterceptedCall, extractor Extractor, run *pipelineRun) {
	defer i.pipelines.Done()
	defer i.finish(run, call.Fingerprint)

	sc := SubmitContext{Ctx: ctx, Call: call, Timestamp: time.Now()}
	logger := i.logger.With().
		Str("provider", call.Provider).
		Str("method", call.Method).
		Str("fingerprint", ShortFingerprint(call.Fingerprint)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic: %v", r)
			logger.Error().Err(err).Msg("pipeline aborted")
			i.fireSubmitFailure(SubmitFailureContext{SubmitContext: sc, Stage: "panic", Error: err, Duration: time.Since(sc.Timestamp)})
		}
	}()

	tx, err := extractor.Extract(ctx, call)
	if err != nil {
		if ErrorCode(err) == "" {
			err = NewExtractionError("extraction failed", err)
		}
		logger.Warn().Err(err).Msg("could not extract transaction")
		i.fireSubmitFailure(SubmitFailureContext{SubmitContext: sc, Stage: "extract", Error: err, Duration: time.Since(sc.Timestamp)})
		return
	}

	logger.Info().Str("request_type", string(tx.RequestType())).Interface("transaction", tx).Msg("transaction extracted")

	if i.notifier != nil {
		if err := i.notifier.Show(i.title, i.body); err != nil {
			logger.Warn().Err(err).Msg("could not show overlay")
		} else {
			run.shown.Store(true)
		}
	}

	if err := i.submitter.Submit(ctx, tx); err != nil {
		logger.Error().Err(err).Str("code", ErrorCode(err)).Msg("submission failed")
		i.fireSubmitFailure(SubmitFailureContext{SubmitContext: sc, Stage: "submit", Error: err, Duration: time.Since(sc.Timestamp)})
		return
	}

	logger.Info().Dur("duration", time.Since(sc.Timestamp)).Msg("transaction submitted")
	i.fireAfterSubmit(SubmitResultContext{SubmitContext: sc, Transaction: tx, Duration: time.Since(sc.Timestamp)})
}

func (i *Interceptor) hideOverlay() {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error().Interface("panic", r).Msg("overlay hide panicked")
		}
	}()
	if err := i.notifier.Hide(); err != nil {
		i.logger.Warn().Err(err).Msg("could not hide overlay")
	}
}

// logRequest logs a signing request once per distinct fingerprint in a row
func (i *Interceptor) logRequest(provider, method, fingerprint string) {
	i.lastMu.Lock()
	repeated := i.lastFingerprint == fingerprint
	i.lastFingerprint = fingerprint
	i.lastMu.Unlock()

	if repeated {
		return
	}
	i.logger.Info().
		Str("provider", provider).
		Str("method", method).
		Str("fingerprint", ShortFingerprint(fingerprint)).
		Msg("signing request detected")
}

// Wait blocks until every detached pipeline has finished
func (i *Interceptor) Wait() {
	i.pipelines.Wait()
}
