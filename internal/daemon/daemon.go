package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/deepchat/internal/config"
	"github.com/harun/deepchat/internal/logger"
	"github.com/harun/deepchat/internal/observability"
	"github.com/harun/deepchat/internal/tracing"
	"github.com/harun/deepchat/pkg/agent"
	"github.com/harun/deepchat/pkg/clock"
	"github.com/harun/deepchat/pkg/commandqueue"
	"github.com/harun/deepchat/pkg/gateway"
	"github.com/harun/deepchat/pkg/orchestrator"
	"github.com/harun/deepchat/pkg/sanitize"
	"github.com/harun/deepchat/pkg/search"
	"github.com/harun/deepchat/pkg/session"
	"github.com/harun/deepchat/pkg/stream"
)

// Daemon represents the deepchat service
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	clock  clock.Clock

	// Core modules
	store     *session.Store
	stats     *session.Stats
	decider   *search.Decider
	searcher  *search.Invoker
	sanitizer *sanitize.Sanitizer
	queue     *commandqueue.CommandQueue
	registry  *agent.Registry
	agents    *agent.Invoker
	manager   *orchestrator.Manager

	// Services
	gatewayServer *gateway.Server
	scheduler     *cron.Cron
	watcher       *config.Watcher

	// Internal
	lifecycle *LifecycleManager
	loader    *config.Loader
	version   string

	// Test seams
	searchClient search.Client
	provider     agent.LLMProvider

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status describes a running daemon
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithConfigLoader enables hot reload of the loader's config file.
func WithConfigLoader(loader *config.Loader) Option {
	return func(d *Daemon) {
		d.loader = loader
	}
}

// WithVersion sets the version reported to tracing.
func WithVersion(version string) Option {
	return func(d *Daemon) {
		d.version = version
	}
}

// WithClock overrides the clock shared by every component.
func WithClock(clk clock.Clock) Option {
	return func(d *Daemon) {
		if clk != nil {
			d.clock = clk
		}
	}
}

// WithSearchClient replaces the Tavily client built from config.
func WithSearchClient(client search.Client) Option {
	return func(d *Daemon) {
		d.searchClient = client
	}
}

// WithProvider replaces the model provider built from config.
func WithProvider(provider agent.LLMProvider) Option {
	return func(d *Daemon) {
		d.provider = provider
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		logger:  log,
		clock:   clock.Real(),
		version: "dev",
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	observability.EnsureRegistered()
	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, d.version); err != nil {
			d.log().Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log().Info().Msg("Tracing initialized successfully")
		}
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

func (d *Daemon) log() *zerolog.Logger {
	l := d.logger.Zerolog()
	return &l
}

// abort releases what a failed New already built.
func (d *Daemon) abort() {
	d.cancel()
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// initializeCoreModules initializes all core modules
func (d *Daemon) initializeCoreModules() error {
	cfg := d.config
	if !slices.Contains(orchestrator.Locales(), cfg.Locale) {
		return fmt.Errorf("unsupported locale %q (available: %v)", cfg.Locale, orchestrator.Locales())
	}
	catalog := orchestrator.CatalogFor(cfg.Locale)

	var defs agent.Definitions
	if path := cfg.Agent.DefinitionsFile; path != "" {
		loaded, err := agent.LoadDefinitions(path)
		if err != nil {
			return fmt.Errorf("failed to load agent definitions: %w", err)
		}
		defs = loaded
		d.log().Info().Str("path", path).Int("agents", defs.Len()).Msg("Agent definitions loaded")
	}

	// Initialize audit logger
	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.log().Warn().Err(err).Str("path", auditPath).Msg("Failed to initialize audit logger, auditing to stderr")
	}

	d.store = session.NewStore(session.Config{
		MaxHistory:  cfg.Sessions.MaxHistory,
		MaxSessions: cfg.Sessions.MaxSessions,
		Timeout:     cfg.Sessions.Timeout,
	}, d.clock)
	d.stats = session.NewStats(d.clock)
	d.log().Info().
		Int("max_sessions", cfg.Sessions.MaxSessions).
		Int("max_history", cfg.Sessions.MaxHistory).
		Msg("Session store initialized")

	d.decider = search.NewDecider(cfg.Search.Keywords, cfg.Search.MinLength)

	client := d.searchClient
	if client == nil && cfg.SearchConfigured() {
		client = search.NewTavilyClient(cfg.Search.APIKey, cfg.Search.BaseURL, cfg.Search.Timeout)
	}
	d.searcher = search.NewInvoker(search.InvokerConfig{
		Client:            client,
		MaxRetries:        cfg.Search.MaxRetries,
		RetryDelay:        cfg.Search.RetryDelay,
		MaxResults:        cfg.Search.MaxResults,
		Topic:             search.ParseTopic(cfg.Search.Topic),
		IncludeRawContent: cfg.Search.IncludeRawContent,
		Clock:             d.clock,
		Logger:            d.logger.Component("search"),
	})
	d.log().Info().Bool("configured", d.searcher.Configured()).Msg("Search invoker initialized")

	sanitizer, err := sanitize.New(sanitize.Config{
		LeakPatterns: cfg.Sanitizer.LeakPatterns,
		LinePrefixes: cfg.Sanitizer.LinePrefixes,
		MinLength:    cfg.Sanitizer.MinLength,
		Placeholder:  catalog.ShortAnswer,
	})
	if err != nil {
		return fmt.Errorf("failed to create sanitizer: %w", err)
	}
	d.sanitizer = sanitizer

	d.queue = commandqueue.New(commandqueue.Config{
		Name:    "agents",
		Workers: cfg.Agent.Workers,
	})
	d.log().Info().Int("workers", cfg.Agent.Workers).Msg("Command queue initialized")

	d.registry = agent.NewRegistry()
	if err := d.registerAgents(catalog, defs); err != nil {
		return fmt.Errorf("failed to register agents: %w", err)
	}

	d.agents = agent.NewInvoker(agent.InvokerConfig{
		Registry:  d.registry,
		Queue:     d.queue,
		WarnAfter: 2 * time.Second,
		Apology:   catalog.Apology,
		Logger:    d.logger.Component("agent"),
	})

	manager, err := orchestrator.New(orchestrator.Deps{
		Store:     d.store,
		Stats:     d.stats,
		Decider:   d.decider,
		Search:    d.searcher,
		Agents:    d.agents,
		Sanitizer: d.sanitizer,
	},
		orchestrator.WithClock(d.clock),
		orchestrator.WithLogger(d.logger.Component("orchestrator")),
		orchestrator.WithLocale(cfg.Locale),
		orchestrator.WithAgentDefinitions(defs),
		orchestrator.WithContextMessages(cfg.Sessions.ContextMessages),
		orchestrator.WithStreamConfig(stream.Config{
			ChunkSize:  cfg.Stream.ChunkSize,
			ChunkDelay: cfg.Stream.ChunkDelay,
			StageDelay: cfg.Stream.StageDelay,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	d.manager = manager
	d.log().Info().Str("locale", catalog.Locale).Msg("Orchestrator initialized")

	return nil
}

// registerAgents builds one LLM runner per agent type sharing a single
// provider, with prompts from defs. Without a provider every type stays
// unavailable.
func (d *Daemon) registerAgents(catalog orchestrator.Catalog, defs agent.Definitions) error {
	cfg := d.config

	provider := d.provider
	if provider == nil {
		if !cfg.AgentConfigured() {
			d.log().Warn().Msg("No model API key configured, agents are unavailable")
			return nil
		}
		p, err := agent.NewProvider(agent.ProviderConfig{
			Provider:       cfg.Agent.Provider,
			APIKey:         cfg.Agent.APIKey,
			BaseURL:        cfg.Agent.BaseURL,
			Timeout:        cfg.Agent.Timeout,
			ConnectTimeout: cfg.Agent.ConnectTimeout,
		})
		if err != nil {
			return err
		}
		provider = p
	}

	var tools *agent.Toolset
	if d.searcher.Configured() {
		ts, err := agent.NewToolset(agent.NewSearchTool(d.searcher))
		if err != nil {
			return err
		}
		tools = ts
	}

	for _, t := range agent.Types {
		runner, err := agent.NewLLMRunner(agent.LLMRunnerConfig{
			Type:         t,
			Provider:     provider,
			Model:        cfg.Agent.Model,
			Temperature:  cfg.Agent.Temperature,
			MaxTokens:    cfg.Agent.MaxTokens,
			MaxAttempts:  cfg.Agent.MaxAttempts,
			MaxToolTurns: cfg.Agent.MaxToolTurns,
			Prompt:       defs.Prompt(t),
			Tools:        tools,
			Apology:      catalog.Apology,
			Clock:        d.clock,
			Logger:       d.logger.Component("agent").With().Str("agent_type", string(t)).Logger(),
		})
		if err != nil {
			return err
		}
		d.registry.Register(t, runner)
	}

	d.log().Info().
		Str("provider", provider.Provider()).
		Str("model", cfg.Agent.Model).
		Int("agents", d.registry.Len()).
		Bool("search_tool", tools != nil).
		Msg("Agents registered")
	return nil
}

// initializeServices initializes all services
func (d *Daemon) initializeServices() error {
	cfg := d.config

	gatewayServer, err := gateway.NewServer(gateway.Config{
		Addr:               cfg.Server.Addr(),
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		CORSOrigins:        cfg.Server.CORSOrigins,
		ShutdownTimeout:    cfg.Server.ShutdownTimeout,
		Pipeline:           d.manager,
		Clock:              d.clock,
		Logger:             d.logger.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = gatewayServer
	d.log().Info().Str("addr", cfg.Server.Addr()).Msg("Gateway server initialized")

	scheduler, err := d.newScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	d.scheduler = scheduler

	if d.loader != nil {
		watcher, err := config.NewWatcher(d.loader, d.applyReload, d.logger.Component("config"))
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = d.clock.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.Zerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting deepchat daemon")

	// Start lifecycle manager
	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	// Start gateway server
	if err := d.gatewayServer.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.markStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.scheduler.Start()
	logger.Info().Int("jobs", len(d.scheduler.Entries())).Msg("Scheduler started")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start config watcher, hot reload disabled")
		}
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.Zerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping deepchat daemon")

	// Stop config watcher
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	// Stop scheduler; running jobs finish first
	<-d.scheduler.Stop().Done()
	logger.Info().Msg("Scheduler stopped")

	// Stop gateway server
	if err := d.gatewayServer.Stop(d.ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	// Let running agent calls finish before the queue cancels them
	if lanes := d.queue.Lanes(); lanes > 0 {
		logger.Info().Int("lanes", lanes).Msg("Waiting for active agent runs")
		if !d.queue.WaitForActive(d.config.Server.ShutdownTimeout) {
			logger.Warn().Msg("Agent runs still active, cancelling")
		}
	}

	// Stop command queue
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue stopped")

	d.cancel()

	// Stop lifecycle manager
	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	// Close audit logger
	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = d.clock.Now().Sub(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log().Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.log().Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetManager returns the chat pipeline
func (d *Daemon) GetManager() *orchestrator.Manager {
	return d.manager
}

// GetSessionStore returns the session store
func (d *Daemon) GetSessionStore() *session.Store {
	return d.store
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetQueue returns the agent command queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}
