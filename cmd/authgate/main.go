package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/gateway"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/migrate"
	"authgate.org/internal/obs"
	"authgate.org/internal/permission"
	"authgate.org/internal/ratelimit"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("AUTHGATE_CONFIG"), "Path to YAML config")
		dotEnv      = flag.String("env-file", ".env", "Optional .env file")
		autoMigrate = flag.Bool("migrate", false, "Apply pending migrations before serving")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() > 0 {
		if err := runAdmin(*configPath, *dotEnv, flag.Args()); err != nil {
			fmt.Fprintln(os.Stderr, "authgate:", err)
			os.Exit(1)
		}
		return
	}
	if err := run(*configPath, *dotEnv, *autoMigrate); err != nil {
		obs.Logger().Error("authgate stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, dotEnv string, autoMigrate bool) error {
	cfg, err := config.NewLoader().WithFile(configPath).WithDotEnv(true, dotEnv).Load()
	if err != nil {
		return err
	}
	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := obs.InitTracing(ctx, cfg.Tracing.Exporter, cfg.Tracing.ServiceName, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Storage: Postgres when a DSN is configured, otherwise in-process.
	var (
		db    *sql.DB
		store auth.Store
	)
	if cfg.Database.DSN != "" {
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		if autoMigrate {
			applied, err := migrate.NewManager(db).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			for _, name := range applied {
				log.Info("migration applied", "name", name)
			}
		}
		store = auth.NewPGStore(db)
	} else {
		log.Warn("no database configured; accounts live in memory")
		store = auth.NewMemoryStore()
	}

	// Rate-limit counters: Redis when configured, otherwise in-process.
	var (
		backend ratelimit.Backend
		redisRB *ratelimit.RedisBackend
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.Timeout,
			ReadTimeout:  cfg.Redis.Timeout,
			WriteTimeout: cfg.Redis.Timeout,
		})
		defer client.Close()
		redisRB = ratelimit.NewRedisBackend(client, cfg.Redis.Prefix)
		backend = redisRB
	} else {
		backend = ratelimit.NewMemoryBackend()
	}
	limiter := ratelimit.New(backend, cfg.RateLimits, ratelimit.WithTimeout(cfg.Redis.Timeout))

	perms := permission.New(cfg)
	codec, creds, sessions, err := newAuth(cfg, store, perms)
	if err != nil {
		return err
	}
	if err := bootstrapAdmin(ctx, sessions, cfg.Bootstrap); err != nil {
		return err
	}

	var sink audit.Sink = audit.NewLogSink(nil)
	if cfg.Audit.Postgres && db != nil {
		sink = audit.MultiSink{sink, audit.NewPGSink(db)}
	}
	recorder := audit.NewRecorder(sink,
		audit.WithQueueSize(cfg.Audit.QueueSize),
		audit.WithTimeout(cfg.Audit.Timeout),
	)

	gw := gateway.New(cfg.Routes, limiter, codec, creds, perms,
		gateway.WithAuditor(recorder),
		gateway.WithTracerProvider(tp),
		gateway.WithTrustProxy(cfg.HTTP.TrustProxy),
	)

	probe := httpapi.ReadyProbe{DB: db}
	if redisRB != nil {
		probe.Redis = redisRB
	}
	api := httpapi.New(httpapi.Deps{
		Gateway:  gw,
		Sessions: sessions,
		Perms:    perms,
		Audit:    recorder,
		Ready:    probe,
		HTTP:     cfg.HTTP,
		Version:  version,
	})
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPCServer(gw, probe)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	go grpcSrv.Watch(ctx, 10*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info("grpc listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.Stop()
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn("audit drain incomplete", "error", err)
	}
	log.Info("stopped")
	return runErr
}

func newAuth(cfg *config.Config, store auth.Store, perms *permission.Resolver) (*auth.TokenCodec, *auth.Credentials, *auth.Service, error) {
	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm, cfg.Auth.Issuer)
	if err != nil {
		return nil, nil, nil, err
	}
	creds, err := auth.NewCredentials(store, codec, perms,
		auth.WithLookupTimeout(cfg.Auth.LookupTimeout),
		auth.WithAPIKeyTokenTTL(cfg.Auth.APIKeyTokenTTL),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	sessions, err := auth.NewService(store, creds,
		auth.WithAccessTTL(cfg.Auth.TokenTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		return nil, nil, nil, err
	}
	return codec, creds, sessions, nil
}

// bootstrapAdmin creates the configured bootstrap account when it is missing.
func bootstrapAdmin(ctx context.Context, sessions *auth.Service, b config.BootstrapConfig) error {
	if b.Email == "" {
		return nil
	}
	u, created, err := sessions.EnsureUser(ctx, b.Email, b.Password, b.Role, "")
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		obs.Logger().Info("bootstrap user created", "user_id", u.ID, "role", b.Role)
	}
	return nil
}
