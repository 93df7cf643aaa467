package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// Handler produces the result for one request. The request entry is available
// through RequestFromContext.
type Handler interface {
	Handle(ctx context.Context) (Result, error)
}

type HandlerFunc func(ctx context.Context) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context) (Result, error) {
	if f == nil {
		return Result{}, fmt.Errorf("core: handler func is nil")
	}
	return f(ctx)
}

type RouterConfig struct {
	PollInterval       time.Duration
	ImmediateFirstPoll bool
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{PollInterval: DefaultPollInterval}
}

type DispatchStats struct {
	Units         int
	Succeeded     int
	RoutingErrors int
	HandlerErrors int
}

func (s DispatchStats) Failed() int {
	return s.RoutingErrors + s.HandlerErrors
}

type requestContextKey struct{}

func ContextWithRequest(ctx context.Context, request Entry) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestContextKey{}, cloneEntry(request))
}

func RequestFromContext(ctx context.Context) (Entry, bool) {
	if ctx == nil {
		return Entry{}, false
	}
	request, ok := ctx.Value(requestContextKey{}).(Entry)
	return request, ok
}

type route struct {
	handler Handler
	cached  bool
}

// Router maps routing keys to handlers and drives the poll loop over an
// Acceptor.
type Router struct {
	mu    sync.RWMutex
	runMu sync.Mutex

	acceptor Acceptor
	routes   map[string]route
	config   RouterConfig
	hook     DispatchHook
	cache    repositorycache.CacheService
	now      Clock

	logger  Logger
	metrics MetricsRecorder
	obs     observer
}

type RouterOption func(*Router)

func WithRouterLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithRouterMetrics(recorder MetricsRecorder) RouterOption {
	return func(r *Router) {
		r.metrics = recorder
	}
}

func WithDispatchHook(hook DispatchHook) RouterOption {
	return func(r *Router) {
		if hook != nil {
			r.hook = hook
		}
	}
}

func WithResultCache(cache repositorycache.CacheService) RouterOption {
	return func(r *Router) {
		r.cache = cache
	}
}

func WithRouterConfig(config RouterConfig) RouterOption {
	return func(r *Router) {
		r.config = config
	}
}

func WithRouterClock(clock Clock) RouterOption {
	return func(r *Router) {
		if clock != nil {
			r.now = clock
		}
	}
}

func NewRouter(acceptor Acceptor, opts ...RouterOption) (*Router, error) {
	if acceptor == nil {
		return nil, fmt.Errorf("core: acceptor is required")
	}
	router := &Router{
		acceptor: acceptor,
		routes:   map[string]route{},
		config:   DefaultRouterConfig(),
		hook:     NopDispatchHook{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(router)
	}
	if router.config.PollInterval <= 0 {
		router.config.PollInterval = DefaultPollInterval
	}
	router.obs = newObserver(router.logger, router.metrics)
	return router, nil
}

// Add registers handler under key, replacing any previous registration.
func (r *Router) Add(key string, handler Handler) error {
	return r.add(key, handler, false)
}

// AddCached registers handler behind the router's result cache. Successful
// results are reused until the cache entry expires.
func (r *Router) AddCached(key string, handler Handler) error {
	if r == nil {
		return fmt.Errorf("core: router is nil")
	}
	if r.cache == nil {
		return fmt.Errorf("core: result cache is not configured")
	}
	return r.add(key, handler, true)
}

func (r *Router) add(key string, handler Handler, cached bool) error {
	if r == nil {
		return fmt.Errorf("core: router is nil")
	}
	if key == "" {
		return fmt.Errorf("core: route key is required")
	}
	if handler == nil {
		return fmt.Errorf("core: handler for %q is required", key)
	}
	if cached {
		handler = &cachedHandler{key: key, cache: r.cache, next: handler}
	}
	r.mu.Lock()
	r.routes[key] = route{handler: handler, cached: cached}
	r.mu.Unlock()
	return nil
}

func (r *Router) Remove(key string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routes[key]
	delete(r.routes, key)
	return ok
}

func (r *Router) Keys() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.routes))
	for key := range r.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) lookup(key string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.routes[key]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// RunOnce accepts one batch, dispatches every unit and stashes the responses.
// Routing and handler failures are answered with error responses and do not
// stop the batch.
func (r *Router) RunOnce(ctx context.Context) (DispatchStats, error) {
	if r == nil || r.acceptor == nil {
		return DispatchStats{}, fmt.Errorf("core: router is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()

	units, err := r.acceptor.Accept(ctx)
	if err != nil {
		return DispatchStats{}, err
	}
	stats := DispatchStats{Units: len(units)}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		result, dispatchErr := r.dispatch(ctx, unit)
		switch {
		case dispatchErr == nil:
			stats.Succeeded++
		case IsRoutingError(dispatchErr):
			stats.RoutingErrors++
		default:
			stats.HandlerErrors++
		}
		r.acceptor.Stash(unit.Set(result))
	}
	if stats.Units > 0 {
		r.obs.logInfo(ctx, "mailbox dispatch batch completed", map[string]any{
			"units":          stats.Units,
			"succeeded":      stats.Succeeded,
			"routing_errors": stats.RoutingErrors,
			"handler_errors": stats.HandlerErrors,
		})
	}
	return stats, nil
}

// Listen polls every PollInterval until ctx is cancelled.
func (r *Router) Listen(ctx context.Context) error {
	if r == nil || r.acceptor == nil {
		return fmt.Errorf("core: router is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r.obs.logInfo(ctx, "mailbox router listening", map[string]any{
		"poll_interval": r.config.PollInterval.String(),
		"routes":        strings.Join(r.Keys(), ","),
	})
	if r.config.ImmediateFirstPoll {
		r.runCycle(ctx)
	}
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.obs.logInfo(ctx, "mailbox router stopped", nil)
			return ctx.Err()
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Router) runCycle(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.obs.logError(ctx, "mailbox poll cycle failed", map[string]any{"error": err.Error()})
	}
}

func (r *Router) dispatch(ctx context.Context, unit *Unit) (Result, error) {
	key := unit.Get()
	startedAt := time.Now()
	event := DispatchEvent{
		RequestID: unit.ID(),
		Route:     key,
		Timestamp: unit.Request().Head.Timestamp,
		Attempt:   1,
		StartedAt: r.now(),
	}
	r.hook.OnStart(ctx, event)

	var (
		result Result
		err    error
	)
	handler, ok := r.lookup(key)
	if !ok {
		err = NewRoutingError(key, unit.ID())
	} else {
		result, err = r.invoke(ctx, key, unit, handler)
	}

	event.Duration = time.Since(startedAt)
	r.obs.observeOperation(ctx, startedAt, "dispatch", err, map[string]any{
		"route":      key,
		"request_id": unit.ID(),
	})
	if err != nil {
		event.Err = err
		r.hook.OnFailure(ctx, event)
		return ErrorResult(errorResponseBody(err)), err
	}
	r.hook.OnSuccess(ctx, event)
	return result, nil
}

func (r *Router) invoke(ctx context.Context, key string, unit *Unit, handler Handler) (result Result, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = Result{}
			err = NewHandlerError(fmt.Errorf("panic: %v", recovered), key, unit.ID())
		}
	}()
	result, err = handler.Handle(ContextWithRequest(ctx, unit.Request()))
	if err != nil {
		return Result{}, NewHandlerError(err, key, unit.ID())
	}
	return result, nil
}

var _ Handler = HandlerFunc(nil)
