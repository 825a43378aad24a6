package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"tallybook.org/internal/auth"
	"tallybook.org/internal/config"
	"tallybook.org/internal/httpapi"
	"tallybook.org/internal/obs"
	"tallybook.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	flags := pflag.NewFlagSet("tallybook-api", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", os.Getenv("TALLYBOOK_CONFIG"), "path to YAML config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.SetupLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

type core struct {
	tokens  *auth.TokenService
	gateway *auth.Gateway
	roles   *auth.RoleAdmin
	janitor *auth.Janitor
}

func buildCore(cfg *config.Config, store *pg.Store, logger *slog.Logger) (*core, error) {
	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret: []byte(cfg.Auth.Secret),
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewPasswordVerifier(store)
	if err != nil {
		return nil, err
	}
	hasher := auth.HashPassword
	if cfg.Auth.PasswordHashing == "argon2id" {
		hasher = auth.HashPasswordArgon2id
	}
	tokens, err := auth.NewTokenService(codec, verifier, store, store,
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithCredentialStore(store),
		auth.WithPasswordHasher(hasher),
		auth.WithLogger(logger.With("component", "token_service")),
	)
	if err != nil {
		return nil, err
	}
	directory, err := auth.NewDirectory(store, auth.WithCacheTTL(cfg.Auth.PermissionTTL))
	if err != nil {
		return nil, err
	}
	gateway, err := auth.NewGateway(codec, store, store, directory,
		auth.WithGatewayLogger(logger.With("component", "gateway")),
		auth.WithDecisionObserver(func(_ context.Context, _ auth.Requirement, kind string) {
			obs.ObserveAuthDecision(kind)
		}),
	)
	if err != nil {
		return nil, err
	}
	roles, err := auth.NewRoleAdmin(store, store, directory)
	if err != nil {
		return nil, err
	}
	janitor, err := auth.NewJanitor(store, tokens.MaxTokenLifetime(), cfg.Auth.PurgeInterval,
		auth.WithJanitorLogger(logger.With("component", "janitor")),
		auth.WithPurgeHook(obs.AddPurged),
	)
	if err != nil {
		return nil, err
	}
	return &core{tokens: tokens, gateway: gateway, roles: roles, janitor: janitor}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer store.Close()

	c, err := buildCore(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("build auth core: %w", err)
	}
	ready := httpapi.ReadyProbe{DB: store.DB()}
	proxies, err := httpapi.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	api := httpapi.New(httpapi.Options{
		Tokens:         c.tokens,
		Gateway:        c.gateway,
		Roles:          c.roles,
		Ready:          ready,
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		TrustedProxies: proxies,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	grpcSvc := httpapi.NewGRPCServer(c.gateway, c.roles, ready, logger)
	grpcSrv := grpcSvc.NewServer()
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	if err := grpcSvc.SyncHealth(ctx); err != nil {
		logger.Warn("database not ready at startup", "error", err)
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go c.janitor.Run(janitorCtx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", "addr", httpSrv.Addr, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
	}

	grpcSvc.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	return runErr
}
