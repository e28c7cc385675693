package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Roles accepted by Validate.
const (
	RoleCoreAPI = "core-api"
	RoleWorker  = "worker"
)

type Config struct {
	Service       ServiceConfig
	Database      DatabaseConfig
	Temporal      TemporalConfig
	Salt          SaltConfig
	Logs          LogStoreConfig
	Notifications NotificationConfig
}

type ServiceConfig struct {
	Name           string `env:"SERVICE_NAME" envDefault:"stackd"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:":8090"`
	MetricsAddr    string `env:"METRICS_ADDR" envDefault:":9090"`
}

type DatabaseConfig struct {
	CoreURL     string `env:"CORE_DATABASE_URL"`
	PowerDNSURL string `env:"POWERDNS_DATABASE_URL"`
	// PowerDNSZone is the zone host records are registered under. Without
	// it hosts get no DNS records.
	PowerDNSZone string `env:"POWERDNS_ZONE"`
	PowerDNSTTL  int    `env:"POWERDNS_TTL" envDefault:"300"`
}

type TemporalConfig struct {
	Address       string `env:"TEMPORAL_ADDRESS" envDefault:"localhost:7233"`
	Namespace     string `env:"TEMPORAL_NAMESPACE" envDefault:"default"`
	TLSCert       string `env:"TEMPORAL_TLS_CERT"`
	TLSKey        string `env:"TEMPORAL_TLS_KEY"`
	TLSCACert     string `env:"TEMPORAL_TLS_CA_CERT"`
	TLSServerName string `env:"TEMPORAL_TLS_SERVER_NAME"`

	StacksQueue  string `env:"STACKS_TASK_QUEUE" envDefault:"stacks"`
	ShortQueue   string `env:"SHORT_TASK_QUEUE" envDefault:"short"`
	DefaultQueue string `env:"DEFAULT_TASK_QUEUE" envDefault:"default"`
}

type SaltConfig struct {
	StacksDir         string        `env:"STACKS_DIR" envDefault:"/var/lib/stackd/stacks"`
	CloudBin          string        `env:"SALT_CLOUD_BIN" envDefault:"salt-cloud"`
	SaltBin           string        `env:"SALT_BIN" envDefault:"salt"`
	RunBin            string        `env:"SALT_RUN_BIN" envDefault:"salt-run"`
	CommandTimeout    time.Duration `env:"SALT_COMMAND_TIMEOUT" envDefault:"1h"`
	SSHUsername       string        `env:"SSH_USERNAME" envDefault:"stackd"`
	SSHPrivateKeyFile string        `env:"SSH_PRIVATE_KEY_FILE"`
	BootstrapCommand  string        `env:"BOOTSTRAP_COMMAND" envDefault:"sudo salt-call --local service.restart salt-minion"`
	ZombieMaxRetries  int           `env:"ZOMBIE_MAX_RETRIES" envDefault:"3"`
	RetryWait         time.Duration `env:"STACK_RETRY_WAIT" envDefault:"10s"`
}

type LogStoreConfig struct {
	Store       string `env:"LOG_STORE" envDefault:"local"`
	Dir         string `env:"LOG_DIR" envDefault:"/var/lib/stackd/logs"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Prefix    string `env:"S3_PREFIX" envDefault:"stack-logs/"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
}

type NotificationConfig struct {
	MaxRetries     int           `env:"NOTIFICATION_MAX_RETRIES" envDefault:"5"`
	ResendInterval time.Duration `env:"NOTIFICATION_RESEND_INTERVAL" envDefault:"10m"`
	// RateLimit caps deliveries per second and notifier. Zero disables it.
	RateLimit       float64 `env:"NOTIFICATION_RATE_LIMIT" envDefault:"0"`
	WebhookURL      string  `env:"WEBHOOK_URL"`
	SlackWebhookURL string  `env:"SLACK_WEBHOOK_URL"`
	SMTPAddr        string  `env:"SMTP_ADDR"`
	SMTPFrom        string  `env:"SMTP_FROM"`
	SMTPUsername    string  `env:"SMTP_USERNAME"`
	SMTPPassword    string  `env:"SMTP_PASSWORD"`
}

// EmailEnabled reports whether SMTP delivery is configured.
func (c NotificationConfig) EmailEnabled() bool {
	return c.SMTPAddr != "" && c.SMTPFrom != ""
}

// Load parses the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Service); err != nil {
		return nil, fmt.Errorf("parsing service config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Temporal); err != nil {
		return nil, fmt.Errorf("parsing temporal config: %w", err)
	}
	if err := env.Parse(&cfg.Salt); err != nil {
		return nil, fmt.Errorf("parsing salt config: %w", err)
	}
	if err := env.Parse(&cfg.Logs); err != nil {
		return nil, fmt.Errorf("parsing log store config: %w", err)
	}
	if err := env.Parse(&cfg.Notifications); err != nil {
		return nil, fmt.Errorf("parsing notification config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the settings a role needs are present.
func (c *Config) Validate(role string) error {
	var errs []error
	if c.Database.CoreURL == "" {
		errs = append(errs, errors.New("CORE_DATABASE_URL is required"))
	}
	if c.Temporal.Address == "" {
		errs = append(errs, errors.New("TEMPORAL_ADDRESS is required"))
	}
	if (c.Temporal.TLSCert == "") != (c.Temporal.TLSKey == "") {
		errs = append(errs, errors.New("TEMPORAL_TLS_CERT and TEMPORAL_TLS_KEY must be set together"))
	}
	switch c.Logs.Store {
	case "local":
		if c.Logs.Dir == "" {
			errs = append(errs, errors.New("LOG_DIR is required for the local log store"))
		}
	case "s3":
		if c.Logs.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 log store"))
		}
	default:
		errs = append(errs, fmt.Errorf("LOG_STORE must be local or s3, got %q", c.Logs.Store))
	}

	switch role {
	case RoleCoreAPI:
		if c.Service.HTTPListenAddr == "" {
			errs = append(errs, errors.New("HTTP_LISTEN_ADDR is required"))
		}
	case RoleWorker:
		if c.Salt.StacksDir == "" {
			errs = append(errs, errors.New("STACKS_DIR is required"))
		}
		if c.Salt.SSHPrivateKeyFile == "" {
			errs = append(errs, errors.New("SSH_PRIVATE_KEY_FILE is required"))
		}
		if c.Database.PowerDNSZone != "" && c.Database.PowerDNSURL == "" {
			errs = append(errs, errors.New("POWERDNS_DATABASE_URL is required when POWERDNS_ZONE is set"))
		}
		if c.Salt.ZombieMaxRetries < 0 {
			errs = append(errs, errors.New("ZOMBIE_MAX_RETRIES must not be negative"))
		}
		if c.Notifications.MaxRetries < 0 {
			errs = append(errs, errors.New("NOTIFICATION_MAX_RETRIES must not be negative"))
		}
		if c.Notifications.ResendInterval <= 0 {
			errs = append(errs, errors.New("NOTIFICATION_RESEND_INTERVAL must be positive"))
		}
		if (c.Notifications.SMTPAddr == "") != (c.Notifications.SMTPFrom == "") {
			errs = append(errs, errors.New("SMTP_ADDR and SMTP_FROM must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", role))
	}
	return errors.Join(errs...)
}
