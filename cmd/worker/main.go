package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"github.com/stackdio/stackd/internal/activity"
	"github.com/stackdio/stackd/internal/config"
	"github.com/stackdio/stackd/internal/db"
	"github.com/stackdio/stackd/internal/logging"
	"github.com/stackdio/stackd/internal/metrics"
	"github.com/stackdio/stackd/internal/model"
	"github.com/stackdio/stackd/internal/notification"
	"github.com/stackdio/stackd/internal/notifier"
	"github.com/stackdio/stackd/internal/provider"
	"github.com/stackdio/stackd/internal/provider/powerdns"
	"github.com/stackdio/stackd/internal/provider/saltify"
	"github.com/stackdio/stackd/internal/salt"
	"github.com/stackdio/stackd/internal/stack"
	"github.com/stackdio/stackd/internal/stacklog"
	"github.com/stackdio/stackd/internal/store"
	"github.com/stackdio/stackd/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(config.RoleWorker); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

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

	powerdnsPool, err := db.NewPowerDNSPool(ctx, cfg.Database.PowerDNSURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to powerdns database")
	}
	var dns provider.DNS
	if powerdnsPool != nil {
		defer powerdnsPool.Close()
		if err := metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, "powerdns", powerdnsPool); err != nil {
			logger.Fatal().Err(err).Msg("failed to register pool metrics")
		}
		if cfg.Database.PowerDNSZone != "" {
			dns = powerdns.New(powerdnsPool, cfg.Database.PowerDNSZone, cfg.Database.PowerDNSTTL)
			logger.Info().Str("zone", cfg.Database.PowerDNSZone).Msg("powerdns registration enabled")
		}
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

	privateKey, err := os.ReadFile(cfg.Salt.SSHPrivateKeyFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read ssh private key")
	}
	publicKey, err := stack.PublicKey(privateKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid ssh private key")
	}
	bootstrapper, err := salt.NewBootstrapper(cfg.Salt.SSHUsername, privateKey, cfg.Salt.BootstrapCommand)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create minion bootstrapper")
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

	providers := provider.NewRegistry()
	if err := providers.Register(saltify.Name, saltify.Factory(dns)); err != nil {
		logger.Fatal().Err(err).Msg("failed to register provider")
	}

	notifiers, err := newNotificationRegistry(cfg.Notifications, st)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register notifiers")
	}
	dispatcher := notification.NewDispatcher(st, notifiers, notification.NewTemporalSubmitter(tc, cfg.Temporal.ShortQueue), logger)
	sender := notification.NewSender(st, notifiers, cfg.Notifications.RateLimit, logger)

	saltClient := salt.NewClient(salt.Config{
		CloudBin: cfg.Salt.CloudBin,
		SaltBin:  cfg.Salt.SaltBin,
		RunBin:   cfg.Salt.RunBin,
		Timeout:  cfg.Salt.CommandTimeout,
	}, salt.ExecRunner{}, logs, logger)

	stackActivities := activity.NewStacks(
		st,
		stack.NewBuilder(st, cfg.Salt.StacksDir, cfg.Salt.SSHUsername, publicKey),
		salt.NewWorkspace(cfg.Salt.StacksDir),
		saltClient,
		bootstrapper,
		providers,
		dispatcher,
		activity.StacksConfig{
			ZombieMaxRetries: cfg.Salt.ZombieMaxRetries,
			RetryWait:        cfg.Salt.RetryWait,
		},
		logger,
	)
	notificationActivities := activity.NewNotifications(sender, dispatcher, cfg.Notifications.MaxRetries, logger)

	opts := worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{&workflow.ErrorTypingInterceptor{}},
	}

	stacksWorker := worker.New(tc, cfg.Temporal.StacksQueue, opts)
	stacksWorker.RegisterActivity(stackActivities)
	stacksWorker.RegisterWorkflow(workflow.StackChainWorkflow)

	shortWorker := worker.New(tc, cfg.Temporal.ShortQueue, opts)
	shortWorker.RegisterActivity(notificationActivities)
	shortWorker.RegisterWorkflow(workflow.SendNotificationWorkflow)
	shortWorker.RegisterWorkflow(workflow.SendBulkNotificationsWorkflow)

	defaultWorker := worker.New(tc, cfg.Temporal.DefaultQueue, opts)
	defaultWorker.RegisterActivity(notificationActivities)
	defaultWorker.RegisterWorkflow(workflow.ResendFailedNotificationsWorkflow)

	if cfg.Service.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.Service.MetricsAddr, func(ctx context.Context) error {
			if err := corePool.Ping(ctx); err != nil {
				return fmt.Errorf("core database: %w", err)
			}
			if _, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
				return fmt.Errorf("temporal: %w", err)
			}
			return nil
		})
		go func() {
			logger.Info().Str("addr", cfg.Service.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	registerSchedules(ctx, tc, cfg, logger)

	workers := map[string]worker.Worker{
		cfg.Temporal.StacksQueue:  stacksWorker,
		cfg.Temporal.ShortQueue:   shortWorker,
		cfg.Temporal.DefaultQueue: defaultWorker,
	}
	for queue, w := range workers {
		logger.Info().Str("taskQueue", queue).Msg("starting temporal worker")
		if err := w.Start(); err != nil {
			logger.Fatal().Err(err).Str("taskQueue", queue).Msg("worker failed to start")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.Stop()
			return nil
		})
	}
	g.Wait()
}

// newNotificationRegistry registers the webhook and slack notifiers, email
// when SMTP is configured, and the stack content type.
func newNotificationRegistry(cfg config.NotificationConfig, st *store.Store) (*notification.Registry, error) {
	r := notification.NewRegistry()
	if err := r.RegisterNotifier("webhook", func() (notification.Notifier, error) {
		return notifier.NewWebhook(cfg.WebhookURL), nil
	}); err != nil {
		return nil, err
	}
	if err := r.RegisterNotifier("slack", func() (notification.Notifier, error) {
		return notifier.NewSlack(cfg.SlackWebhookURL), nil
	}); err != nil {
		return nil, err
	}
	if cfg.EmailEnabled() {
		if err := r.RegisterNotifier("email", func() (notification.Notifier, error) {
			return notifier.NewEmail(notifier.EmailConfig{
				Addr:     cfg.SMTPAddr,
				From:     cfg.SMTPFrom,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
			})
		}); err != nil {
			return nil, err
		}
	}
	if err := r.RegisterContentType(model.ContentTypeStack, notification.StackSerializer(st)); err != nil {
		return nil, err
	}
	return r, nil
}

type schedule struct {
	id       string
	every    time.Duration
	workflow interface{}
	queue    string
}

// registerSchedules creates the periodic workflows. Schedules that already
// exist are left alone so that re-deploys do not fail.
func registerSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []schedule{
		{
			id:       "resend-failed-notifications",
			every:    cfg.Notifications.ResendInterval,
			workflow: workflow.ResendFailedNotificationsWorkflow,
			queue:    cfg.Temporal.DefaultQueue,
		},
	}

	scheduleClient := tc.ScheduleClient()

	for _, s := range schedules {
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				Intervals: []temporalclient.ScheduleIntervalSpec{{Every: s.every}},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				TaskQueue: s.queue,
			},
		})
		if err != nil {
			if errors.Is(err, temporal.ErrScheduleAlreadyRunning) || strings.Contains(err.Error(), "already exists") {
				logger.Info().Str("id", s.id).Msg("schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Dur("every", s.every).Msg("created schedule")
		}
	}
}
