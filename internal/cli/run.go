package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/config"
	"github.com/roach88/referral/internal/kv"
	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/platform"
	"github.com/roach88/referral/internal/sdk"
)

// Session is one initialized SDK client plus the resources behind it.
type Session struct {
	Client  *sdk.Client
	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	closers []func() error
}

// Close releases the session's store.
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// loadConfig reads the config sources and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile, opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.APIKey, opts.APIKey)
	override(&cfg.BaseURL, opts.BaseURL)
	override(&cfg.PlatformFixture, opts.PlatformFixture)
	override(&cfg.RecordPolicy, opts.RecordPolicy)
	if opts.Database != "" {
		cfg.DBPath, cfg.RedisURL = opts.Database, ""
	}
	if opts.Redis != "" {
		cfg.RedisURL, cfg.DBPath = opts.Redis, ""
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger and installs it as the default.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openStore opens the configured state store.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (kv.Store, func() error, error) {
	switch {
	case cfg.DBPath != "":
		log.Debug("opening database", "path", cfg.DBPath)
		st, err := kv.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		return st, st.Close, nil
	case cfg.RedisURL != "":
		log.Debug("connecting to redis", "prefix", cfg.KeyPrefix)
		st, err := kv.OpenRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		return st, st.Close, nil
	default:
		log.Debug("using in-memory state; nothing persists after this command")
		return kv.NewMemory(nil), func() error { return nil }, nil
	}
}

// OpenSession builds an SDK client from the configuration and flags and,
// when initialize is true, runs Initialize with the configured API key.
func OpenSession(ctx context.Context, opts *RootOptions, stderr io.Writer, initialize bool) (*Session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := newLogger(stderr, opts.LogFormat, cfg.Level())

	var fixture *platform.Fixture
	if cfg.PlatformFixture != "" {
		fixture, err = platform.LoadFixture(cfg.PlatformFixture)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load platform fixture", err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	s := &Session{
		Client: sdk.New(store, platform.NewFixtureBinding(fixture), sdk.Options{
			API:          cfg.APIConfig(),
			RecordPolicy: cfg.Policy(),
			Logger:       log,
			Metrics:      m,
		}),
		Config:  cfg,
		Metrics: m,
		Logger:  log,
		closers: []func() error{closeStore},
	}

	if !initialize {
		return s, nil
	}
	if cfg.APIKey == "" {
		_ = s.Close()
		return nil, NewExitError(ExitCommandError, "api key is required (--api-key or REFERRAL_API_KEY)")
	}
	if err := s.Client.Initialize(ctx, cfg.APIKey); err != nil {
		_ = s.Close()
		return nil, WrapExitError(ExitFailure, "initialization failed", err)
	}
	return s, nil
}

// commandContext returns the command's context, or Background if unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withSession opens a session, runs fn, and reports any error through the
// formatter. Commands that only read local state pass initialize false.
func withSession(opts *RootOptions, cmd *cobra.Command, initialize bool, fn func(ctx context.Context, s *Session, f *OutputFormatter) error) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	s, err := OpenSession(ctx, opts, cmd.ErrOrStderr(), initialize)
	if err != nil {
		return f.Report(err)
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			s.Logger.Error("error closing store", "error", closeErr)
		}
	}()

	err = fn(ctx, s, f)
	if opts.Metrics {
		if mErr := s.Metrics.WriteText(cmd.ErrOrStderr()); mErr != nil {
			s.Logger.Error("writing metrics failed", "error", mErr)
		}
	}
	if err != nil {
		return f.Report(err)
	}
	return nil
}
