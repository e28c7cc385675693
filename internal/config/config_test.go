package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyCoreDBURL(t *testing.T) {
	// Config loads successfully even without CORE_DATABASE_URL set.
	os.Unsetenv("CORE_DATABASE_URL")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Database.CoreURL)
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"TEMPORAL_ADDRESS", "HTTP_LISTEN_ADDR", "LOG_LEVEL", "STACKS_TASK_QUEUE",
		"ZOMBIE_MAX_RETRIES", "NOTIFICATION_MAX_RETRIES", "NOTIFICATION_RESEND_INTERVAL", "LOG_STORE",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
	assert.Equal(t, ":8090", cfg.Service.HTTPListenAddr)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "stacks", cfg.Temporal.StacksQueue)
	assert.Equal(t, "short", cfg.Temporal.ShortQueue)
	assert.Equal(t, "default", cfg.Temporal.DefaultQueue)
	assert.Equal(t, 3, cfg.Salt.ZombieMaxRetries)
	assert.Equal(t, 5, cfg.Notifications.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.Notifications.ResendInterval)
	assert.Equal(t, "local", cfg.Logs.Store)
}

func TestLoad_EnvVars(t *testing.T) {
	t.Setenv("CORE_DATABASE_URL", "postgres://localhost:5432/core")
	t.Setenv("POWERDNS_ZONE", "stacks.example.com")
	t.Setenv("ZOMBIE_MAX_RETRIES", "7")
	t.Setenv("NOTIFICATION_RESEND_INTERVAL", "90s")
	t.Setenv("NOTIFICATION_RATE_LIMIT", "2.5")
	t.Setenv("LOG_STORE", "s3")
	t.Setenv("S3_BUCKET", "stack-logs")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost:5432/core", cfg.Database.CoreURL)
	assert.Equal(t, "stacks.example.com", cfg.Database.PowerDNSZone)
	assert.Equal(t, 7, cfg.Salt.ZombieMaxRetries)
	assert.Equal(t, 90*time.Second, cfg.Notifications.ResendInterval)
	assert.Equal(t, 2.5, cfg.Notifications.RateLimit)
	assert.Equal(t, "s3", cfg.Logs.Store)
	assert.Equal(t, "stack-logs", cfg.Logs.S3Bucket)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("NOTIFICATION_RESEND_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification config")
}

func validWorkerConfig(t *testing.T) *Config {
	t.Helper()
	os.Unsetenv("POWERDNS_ZONE")
	os.Unsetenv("SMTP_ADDR")
	os.Unsetenv("SMTP_FROM")
	t.Setenv("CORE_DATABASE_URL", "postgres://localhost/core")
	t.Setenv("SSH_PRIVATE_KEY_FILE", "/etc/stackd/id_ed25519")
	t.Setenv("LOG_STORE", "local")
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_Worker(t *testing.T) {
	cfg := validWorkerConfig(t)
	require.NoError(t, cfg.Validate(RoleWorker))

	cfg.Salt.SSHPrivateKeyFile = ""
	cfg.Database.PowerDNSZone = "stacks.example.com"
	cfg.Notifications.SMTPAddr = "mail:25"
	err := cfg.Validate(RoleWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSH_PRIVATE_KEY_FILE")
	assert.Contains(t, err.Error(), "POWERDNS_DATABASE_URL")
	assert.Contains(t, err.Error(), "SMTP_ADDR and SMTP_FROM")
}

func TestValidate_CoreAPI(t *testing.T) {
	cfg := validWorkerConfig(t)
	cfg.Salt.SSHPrivateKeyFile = ""
	require.NoError(t, cfg.Validate(RoleCoreAPI))

	cfg.Database.CoreURL = ""
	assert.ErrorContains(t, cfg.Validate(RoleCoreAPI), "CORE_DATABASE_URL")
}

func TestValidate_LogStore(t *testing.T) {
	cfg := validWorkerConfig(t)

	cfg.Logs.Store = "s3"
	assert.ErrorContains(t, cfg.Validate(RoleWorker), "S3_BUCKET")

	cfg.Logs.Store = "ftp"
	assert.ErrorContains(t, cfg.Validate(RoleWorker), "LOG_STORE")
}

func TestValidate_UnknownRole(t *testing.T) {
	cfg := validWorkerConfig(t)
	assert.ErrorContains(t, cfg.Validate("scheduler"), "unknown role")
}

func TestNotificationConfig_EmailEnabled(t *testing.T) {
	assert.False(t, NotificationConfig{}.EmailEnabled())
	assert.True(t, NotificationConfig{SMTPAddr: "mail:25", SMTPFrom: "stackd@example.com"}.EmailEnabled())
}
