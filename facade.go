package mailbox

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-mailbox/adapters/gologger"
	mailboxcommand "github.com/goliatone/go-mailbox/command"
	"github.com/goliatone/go-mailbox/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

// Commands are the go-command wrappers bound to one mailbox.
type Commands struct {
	Accept          *mailboxcommand.AcceptCommand
	Stash           *mailboxcommand.StashCommand
	DispatchOnce    *mailboxcommand.DispatchOnceCommand
	InvalidateRoute *mailboxcommand.InvalidateRouteCommand
}

// Mailbox wires a session and a router over one document store.
type Mailbox struct {
	config   Config
	session  *core.Session
	router   *core.Router
	commands Commands
}

type Option func(*options)

type options struct {
	config         Config
	configSet      bool
	provider       glog.LoggerProvider
	logger         glog.Logger
	metrics        core.MetricsRecorder
	hooks          []core.DispatchHook
	cache          repositorycache.CacheService
	extensions     *ExtensionHooks
	sessionOptions []core.SessionOption
	routerOptions  []core.RouterOption
}

func WithConfig(config Config) Option {
	return func(o *options) {
		o.config = config
		o.configSet = true
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

func WithMetrics(recorder core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = recorder
	}
}

func WithDispatchHook(hook core.DispatchHook) Option {
	return func(o *options) {
		if hook != nil {
			o.hooks = append(o.hooks, hook)
		}
	}
}

// WithResultCache enables routes registered through HandleCached.
func WithResultCache(cache repositorycache.CacheService) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithExtensions installs every registered route pack into the router.
func WithExtensions(hooks *ExtensionHooks) Option {
	return func(o *options) {
		o.extensions = hooks
	}
}

func WithSessionOptions(opts ...core.SessionOption) Option {
	return func(o *options) {
		o.sessionOptions = append(o.sessionOptions, opts...)
	}
}

func WithRouterOptions(opts ...core.RouterOption) Option {
	return func(o *options) {
		o.routerOptions = append(o.routerOptions, opts...)
	}
}

func New(docs DocumentStore, blobs BlobStore, opts ...Option) (*Mailbox, error) {
	cfg := options{config: DefaultConfig()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.configSet {
		if err := cfg.config.Validate(); err != nil {
			return nil, err
		}
	}

	sessionLogging, routerLogging := gologger.SessionOptions(cfg.provider, cfg.logger)
	sessionOpts := append(sessionLogging, core.WithSessionConfig(cfg.config.SessionConfig()))
	routerOpts := append(routerLogging, core.WithRouterConfig(cfg.config.RouterConfig()))
	if cfg.metrics != nil {
		sessionOpts = append(sessionOpts, core.WithSessionMetrics(cfg.metrics))
		routerOpts = append(routerOpts, core.WithRouterMetrics(cfg.metrics))
	}
	switch len(cfg.hooks) {
	case 0:
	case 1:
		routerOpts = append(routerOpts, core.WithDispatchHook(cfg.hooks[0]))
	default:
		routerOpts = append(routerOpts, core.WithDispatchHook(core.DispatchHooks(cfg.hooks)))
	}
	if cfg.cache != nil {
		routerOpts = append(routerOpts, core.WithResultCache(cfg.cache))
	}
	sessionOpts = append(sessionOpts, cfg.sessionOptions...)
	routerOpts = append(routerOpts, cfg.routerOptions...)

	session, err := core.NewSession(docs, blobs, sessionOpts...)
	if err != nil {
		return nil, err
	}
	router, err := core.NewRouter(session, routerOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.extensions != nil {
		if err := cfg.extensions.Install(router); err != nil {
			return nil, err
		}
	}

	return &Mailbox{
		config:  cfg.config,
		session: session,
		router:  router,
		commands: Commands{
			Accept:          mailboxcommand.NewAcceptCommand(session),
			Stash:           mailboxcommand.NewStashCommand(session),
			DispatchOnce:    mailboxcommand.NewDispatchOnceCommand(router),
			InvalidateRoute: mailboxcommand.NewInvalidateRouteCommand(router),
		},
	}, nil
}

func (m *Mailbox) Handle(key string, handler Handler) error {
	if m == nil || m.router == nil {
		return fmt.Errorf("mailbox: router is not configured")
	}
	return m.router.Add(key, handler)
}

// HandleCached registers a route whose result is cached; it requires
// WithResultCache.
func (m *Mailbox) HandleCached(key string, handler Handler) error {
	if m == nil || m.router == nil {
		return fmt.Errorf("mailbox: router is not configured")
	}
	return m.router.AddCached(key, handler)
}

func (m *Mailbox) RunOnce(ctx context.Context) (DispatchStats, error) {
	if m == nil || m.router == nil {
		return DispatchStats{}, fmt.Errorf("mailbox: router is not configured")
	}
	return m.router.RunOnce(ctx)
}

// Listen polls until ctx is done.
func (m *Mailbox) Listen(ctx context.Context) error {
	if m == nil || m.router == nil {
		return fmt.Errorf("mailbox: router is not configured")
	}
	return m.router.Listen(ctx)
}

func (m *Mailbox) Session() *core.Session {
	if m == nil {
		return nil
	}
	return m.session
}

func (m *Mailbox) Router() *core.Router {
	if m == nil {
		return nil
	}
	return m.router
}

func (m *Mailbox) Commands() Commands {
	if m == nil {
		return Commands{}
	}
	return m.commands
}

func (m *Mailbox) Config() Config {
	if m == nil {
		return Config{}
	}
	return m.config
}
