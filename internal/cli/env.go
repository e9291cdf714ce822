package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/cache"
	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/harness"
	"github.com/roach88/lockerbench/internal/lockerapi"
	"github.com/roach88/lockerbench/internal/metrics"
	"github.com/roach88/lockerbench/internal/store"
)

// newLogger builds the process logger: text on w, Debug with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the layered config, lets apply override it from flags,
// and validates the result again.
func loadConfig(opts *RootOptions, apply func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if apply != nil {
		apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "invalid flags", err)
		}
	}
	return cfg, nil
}

// env is everything a command needs to talk to the service and its store.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	api     *lockerapi.Client
	cache   *cache.Redis
	metrics *metrics.Recorder
}

// openEnv connects to the state store and prepares the service client. The
// hold cache is attached only when cache.addr is set.
func openEnv(ctx context.Context, cfg config.Config, logger *slog.Logger) (*env, error) {
	logger.Info("opening state store", "driver", cfg.Store.Driver)
	st, err := store.Open(ctx, store.Options{
		Dialect:  store.Dialect(cfg.Store.Driver),
		DSN:      cfg.Store.ConnString(),
		MaxConns: cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open state store", err)
	}

	e := &env{
		cfg:    cfg,
		logger: logger,
		store:  st,
		api: lockerapi.New(cfg.BaseURL, lockerapi.Options{
			MaxConnections: cfg.HTTP.MaxConnections,
			RequestTimeout: cfg.Timeouts.Request,
		}),
		metrics: metrics.NewRecorder(),
	}
	if cfg.Cache.Addr != "" {
		e.cache = cache.NewRedis(cache.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Pattern:  cfg.Cache.HoldKeyPattern,
		})
		if err := e.cache.Ping(ctx); err != nil {
			// reset still works without the cache; stale holds expire on their own
			logger.Warn("hold cache unreachable", "addr", cfg.Cache.Addr, "error", err)
		}
	}
	return e, nil
}

// harness builds a Harness over the env. The run id generator and seed come
// from the root options when tests set them.
func (e *env) harness(opts *RootOptions) *harness.Harness {
	hopts := []harness.Option{
		harness.WithLogger(e.logger),
		harness.WithMetrics(e.metrics),
	}
	if e.cache != nil {
		hopts = append(hopts, harness.WithHoldCache(e.cache))
	}
	if opts.RunIDs != nil {
		hopts = append(hopts, harness.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Seed != nil {
		hopts = append(hopts, harness.WithSeed(*opts.Seed))
	}
	return harness.New(e.cfg, e.store, e.api, hopts...)
}

// serveMetrics exposes /metrics until ctx ends, when metrics.addr is set.
func (e *env) serveMetrics(ctx context.Context) {
	if e.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		e.logger.Info("serving metrics", "addr", e.cfg.Metrics.Addr)
		if err := e.metrics.Serve(ctx, e.cfg.Metrics.Addr); err != nil {
			e.logger.Error("metrics server stopped", "error", err)
		}
	}()
}

func (e *env) Close() {
	e.api.Close()
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.logger.Error("error closing hold cache", "error", err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing state store", "error", err)
	}
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM. Cancelling it interrupts the run; teardown still runs.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, interrupting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
