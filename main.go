// Command userdirectory starts the user directory MCP server.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP session router on /rpc, with one
//     conversation engine per Mcp-Session-Id, plus /healthz, /metrics and
//     /api/sessions
//  2. "stdio" – runs a single MCP conversation over stdin/stdout
//
// Settings come from configs/*.yaml, .env, the environment and flags, in that
// order of increasing precedence. An optional ngrok tunnel exposes the HTTP
// router publicly during development.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/userdirectory/api"
	"github.com/wricardo/mcp-training/userdirectory/core/config"
	"github.com/wricardo/mcp-training/userdirectory/core/engine"
	"github.com/wricardo/mcp-training/userdirectory/core/sampling"
	"github.com/wricardo/mcp-training/userdirectory/core/service"
	"github.com/wricardo/mcp-training/userdirectory/core/session"
	"github.com/wricardo/mcp-training/userdirectory/core/store"
	"github.com/wricardo/mcp-training/userdirectory/transport/mcp"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "User Directory MCP Server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

// globalFlags are shared by every mode. Only flags that are set override the
// loaded configuration.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file", Sources: cli.EnvVars("CONFIG_FILE")},
		&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before reading the environment"},
		&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP server port (default 5000, or $PORT)"},
		&cli.StringFlag{Name: "endpoint", Usage: "path of the JSON-RPC endpoint"},
		&cli.StringFlag{Name: "store", Usage: "user store driver: json or sqlite"},
		&cli.StringFlag{Name: "store-path", Usage: "users file or sqlite database"},
		&cli.StringFlag{Name: "sampling", Usage: "sampling provider: client or openrouter"},
		&cli.DurationFlag{Name: "idle-timeout", Usage: "evict sessions idle for this long"},
		&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "console or json"},
		&cli.BoolFlag{Name: "debug", Usage: "shorthand for --log-level debug"},
		&cli.BoolFlag{Name: "ngrok", Usage: "enable ngrok tunnel"},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token (or NGROK_AUTHTOKEN)"},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain"},
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "userdirectory",
		Usage:   AppName,
		Version: Version,
		Flags:   globalFlags(),
		Action:  serveAction,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "run the HTTP session router (default)",
				Action:  serveAction,
			},
			{
				Name:    "stdio",
				Aliases: []string{"stdio-mcp", "mcp"},
				Usage:   "run one MCP conversation over stdin/stdout",
				Action:  stdioAction,
			},
			{
				Name:   "check-config",
				Usage:  "print the effective configuration and exit",
				Action: checkConfigAction,
			},
		},
	}
}

// configFromCommand layers defaults, the YAML file, .env, the environment and
// finally any flags the user set.
func configFromCommand(cmd *cli.Command) (config.Config, error) {
	if _, err := config.LoadDotEnv(cmd.String("env-file")); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("endpoint") {
		cfg.Server.Endpoint = cmd.String("endpoint")
	}
	if cmd.IsSet("store") {
		cfg.Store.Driver = cmd.String("store")
	}
	if cmd.IsSet("store-path") {
		cfg.Store.Path = cmd.String("store-path")
	}
	if cmd.IsSet("sampling") {
		cfg.Sampling.Provider = cmd.String("sampling")
	}
	if cmd.IsSet("idle-timeout") {
		cfg.Session.IdleTimeout = cmd.Duration("idle-timeout")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the zerolog default
func newLogger(cfg config.LogConfig, stdio bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), errors.Wrapf(config.ErrInvalidConfig, "log level %q", cfg.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	// stdout carries the protocol in stdio mode, so logs always go to stderr
	out := os.Stderr
	var logger zerolog.Logger
	if cfg.Format == "json" {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: stdio})
	}
	logger = logger.Level(level).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(level)
	log.Logger = logger
	return logger, nil
}

// app holds everything the HTTP mode wires together
type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	store    store.Store
	handlers *mcp.Handlers
	metrics  *api.Metrics
	registry *session.Registry
	router   *api.Server
}

// newApp opens the user store and builds the session registry and router.
// The caller must Close the returned app.
func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path, Seed: cfg.Store.Seed})
	if err != nil {
		return nil, errors.Wrap(err, "open user store")
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		handlers: mcp.NewHandlers(service.NewUserService(st), mcp.WithLogger(logger)),
		metrics:  api.NewMetrics(),
	}

	engineOpts := []engine.Option{
		engine.WithSamplingTimeout(cfg.Sampling.Timeout),
		engine.WithLogger(logger),
	}
	if cfg.Sampling.Provider == config.SamplingOpenRouter {
		provider, err := sampling.NewOpenRouter(sampling.OpenRouterConfig{
			APIKey:          cfg.Sampling.OpenRouter.APIKey,
			BaseURL:         cfg.Sampling.OpenRouter.BaseURL,
			Model:           cfg.Sampling.OpenRouter.Model,
			ReasoningEffort: cfg.Sampling.OpenRouter.ReasoningEffort,
			Timeout:         cfg.Sampling.Timeout,
		})
		if err != nil {
			_ = st.Close()
			return nil, errors.Wrap(err, "create sampling provider")
		}
		logger.Info().Str("model", provider.Model()).Msg("server-side sampling enabled")
		engineOpts = append(engineOpts, engine.WithSampler(provider))
	}

	factory := func(id string, opts ...engine.Option) (*engine.Engine, error) {
		all := make([]engine.Option, 0, len(engineOpts)+len(opts))
		all = append(append(all, engineOpts...), opts...)
		return engine.New(id, a.handlers.NewServer(), all...), nil
	}

	var guard session.Store = session.NewLockedStore()
	if cfg.Session.Guard == config.GuardSyncMap {
		guard = session.NewSyncMapStore()
	}

	a.registry = session.NewRegistry(factory,
		session.WithStore(guard),
		session.WithObserver(a.metrics),
		session.WithLogger(logger.With().Str("component", "registry").Logger()),
	)

	a.router = api.NewServer(a.registry, api.Config{
		Endpoint:          cfg.Server.Endpoint,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		EvictOnDisconnect: cfg.Session.EvictOnDisconnect,
		InitRate:          cfg.Server.InitRate,
		InitBurst:         cfg.Server.InitBurst,
		KeepAlive:         cfg.Server.KeepAlive,
	}, api.WithMetrics(a.metrics), api.WithLogger(logger))

	return a, nil
}

// Close evicts every live session and releases the user store
func (a *app) Close() error {
	if n := a.registry.CloseAll(engine.ReasonShutdown); n > 0 {
		a.logger.Info().Int("sessions", n).Msg("closed remaining sessions")
	}
	return a.store.Close()
}

// run serves HTTP until ctx is cancelled, then shuts down gracefully
func (a *app) run(ctx context.Context) error {
	addr := a.cfg.Addr()
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	// Streams block Shutdown until their session ends.
	httpServer.RegisterOnShutdown(func() {
		a.registry.CloseAll(engine.ReasonShutdown)
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().
			Str("addr", addr).
			Str("rpc", fmt.Sprintf("http://%s%s", addr, a.cfg.Server.Endpoint)).
			Str("store", a.cfg.Store.Driver).
			Str("sampling", a.cfg.Sampling.Provider).
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("HTTP server shutdown")
		}
		return nil
	})

	g.Go(func() error {
		return a.registry.RunSweeper(gctx, a.cfg.Session.IdleTimeout, a.cfg.Session.SweepInterval)
	})

	if a.cfg.Ngrok.Enabled {
		g.Go(func() error {
			return a.serveNgrok(gctx)
		})
	}

	err := g.Wait()
	a.logger.Info().Msg("server stopped")
	return err
}

// serveNgrok exposes the router through an ngrok tunnel. Tunnel failures are
// logged and do not stop the local server.
func (a *app) serveNgrok(ctx context.Context) error {
	if a.cfg.Ngrok.AuthToken == "" {
		a.logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or NGROK_AUTH_TOKEN)")
		return nil
	}

	var tunnel ngrokConfig.Tunnel
	if a.cfg.Ngrok.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(a.cfg.Ngrok.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.cfg.Ngrok.AuthToken))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return nil
	}
	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	a.logger.Info().
		Str("url", tun.URL()).
		Str("rpc", tun.URL()+a.cfg.Server.Endpoint).
		Msg("ngrok tunnel established")

	if err := http.Serve(tun, a.router); err != nil && ctx.Err() == nil {
		a.logger.Error().Err(err).Msg("ngrok server error")
	}
	a.logger.Info().Msg("ngrok tunnel closed")
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, false)
	if err != nil {
		return err
	}
	logger.Info().Str("version", Version).Msgf("starting %s", AppName)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("close user store")
		}
	}()
	return a.run(ctx)
}

// stdioAction serves one conversation on stdin/stdout. Sampling goes to the
// connected client.
func stdioAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, true)
	if err != nil {
		return err
	}

	st, err := store.Open(store.Options{Driver: cfg.Store.Driver, Path: cfg.Store.Path, Seed: cfg.Store.Seed})
	if err != nil {
		return errors.Wrap(err, "open user store")
	}
	defer st.Close()

	handlers := mcp.NewHandlers(service.NewUserService(st), mcp.WithLogger(logger))
	stdio := server.NewStdioServer(handlers.NewServer())
	stdio.SetErrorLogger(stdlog.New(logger.With().Str("component", "stdio").Logger(), "", 0))

	logger.Info().Msg("MCP stdio server ready")
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "stdio server")
	}
	return nil
}

func checkConfigAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromCommand(cmd)
	if err != nil {
		return err
	}
	if cfg.Sampling.OpenRouter.APIKey != "" {
		cfg.Sampling.OpenRouter.APIKey = "***"
	}
	if cfg.Ngrok.AuthToken != "" {
		cfg.Ngrok.AuthToken = "***"
	}
	out, err := cfg.YAML()
	if err != nil {
		return err
	}
	_, err = cmd.Root().Writer.Write(out)
	return err
}
