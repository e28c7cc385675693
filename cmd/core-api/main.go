package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/stackdio/stackd/internal/api"
	"github.com/stackdio/stackd/internal/config"
	"github.com/stackdio/stackd/internal/core"
	"github.com/stackdio/stackd/internal/db"
	"github.com/stackdio/stackd/internal/logging"
	"github.com/stackdio/stackd/internal/metrics"
	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/provider/saltify"
	"github.com/stackdio/stackd/internal/stack"
	"github.com/stackdio/stackd/internal/stacklog"
	"github.com/stackdio/stackd/internal/store"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-user" {
		createUser(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(config.RoleCoreAPI); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Msg("running database migrations")
		if err := db.RunMigrations(cfg.Database.CoreURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	corePool, err := db.NewCorePool(ctx, cfg.Database.CoreURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	if err := metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, "core", corePool); err != nil {
		logger.Fatal().Err(err).Msg("failed to register pool metrics")
	}

	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{
		HostPort:  cfg.Temporal.Address,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	// The pillar carries the stackd public key. Without a key file the
	// worker's first rebuild fills it in.
	var publicKey string
	if cfg.Salt.SSHPrivateKeyFile != "" {
		privateKey, err := os.ReadFile(cfg.Salt.SSHPrivateKeyFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to read ssh private key")
		}
		if publicKey, err = stack.PublicKey(privateKey); err != nil {
			logger.Fatal().Err(err).Msg("invalid ssh private key")
		}
	}

	logs, err := stacklog.Open(cfg.Logs.Store, cfg.Logs.Dir, stacklog.S3Config{
		Endpoint:  cfg.Logs.S3Endpoint,
		Region:    cfg.Logs.S3Region,
		Bucket:    cfg.Logs.S3Bucket,
		Prefix:    cfg.Logs.S3Prefix,
		AccessKey: cfg.Logs.S3AccessKey,
		SecretKey: cfg.Logs.S3SecretKey,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open log store")
	}

	st := store.New(corePool)

	// DNS registration happens on the worker. The API only asks drivers
	// which actions they support.
	providers := provider.NewRegistry()
	if err := providers.Register(saltify.Name, saltify.Factory(nil)); err != nil {
		logger.Fatal().Err(err).Msg("failed to register provider")
	}

	defaults := model.DefaultWorkflowOptions()
	defaults.ZombieMaxRetries = cfg.Salt.ZombieMaxRetries

	builder := stack.NewBuilder(st, cfg.Salt.StacksDir, cfg.Salt.SSHUsername, publicKey)
	srv := api.NewServer(logger, api.Services{
		Stacks: core.NewStackService(st, builder, providers, tc, cfg.Temporal.StacksQueue, defaults, logger),
		Users:  core.NewUserService(st),
		Logs:   logs,
	}, corePool, tc)

	httpServer := &http.Server{
		Addr:         cfg.Service.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Service.HTTPListenAddr).Msg("starting core API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
}

func createUser(args []string) {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	username := fs.String("username", "", "Username (required)")
	email := fs.String("email", "", "Email address")
	keyFile := fs.String("public-key-file", "", "File holding the user's SSH public key")
	fs.Parse(args)

	if *username == "" {
		fmt.Fprintln(os.Stderr, "error: --username is required")
		fmt.Fprintln(os.Stderr, "usage: core-api create-user --username <name> [--email <addr>] [--public-key-file <path>]")
		os.Exit(1)
	}

	var publicKey string
	if *keyFile != "" {
		data, err := os.ReadFile(*keyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to read public key: %v\n", err)
			os.Exit(1)
		}
		publicKey = string(data)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewCorePool(ctx, cfg.Database.CoreURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	u, err := core.NewUserService(store.New(pool)).Create(ctx, *username, *email, publicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("User created.\n\n")
	fmt.Printf("  ID:       %d\n", u.ID)
	fmt.Printf("  Username: %s\n", u.Username)
}
