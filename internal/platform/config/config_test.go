package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_TWILIO_AUTH_TOKEN", "token")
	t.Setenv("APP_TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("APP_TWILIO_FROM_NUMBER", "+15550000000")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.True(t, cfg.WebhookValidationEnabled)
	assert.Empty(t, cfg.WebhookAllowedCIDRs)
	assert.Empty(t, cfg.TrustedProxyCIDRs)
	assert.Equal(t, "https://api.twilio.com", cfg.TwilioAPIBaseURL)
	assert.Equal(t, int32(10), cfg.PostgresMaxConns)
	assert.Equal(t, int32(2), cfg.PostgresMinConns)
	assert.Equal(t, time.Hour, cfg.PostgresMaxConnLifetime)
	assert.Equal(t, 30*time.Minute, cfg.PostgresMaxConnIdleTime)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_TWILIO_AUTH_TOKEN", "token")
	t.Setenv("APP_SMS_PROVIDER", "mock")
	t.Setenv("APP_STORE_DRIVER", "Memory")
	t.Setenv("APP_LOG_LEVEL", "DEBUG")
	t.Setenv("APP_HTTP_PORT", "9090")
	t.Setenv("APP_WEBHOOK_VALIDATION_ENABLED", "false")
	t.Setenv("APP_WEBHOOK_ALLOWED_CIDRS", "54.172.60.0/23, 34.203.250.0/23,,")
	t.Setenv("APP_WEBHOOK_PUBLIC_URL", "https://example.org/webhooks/sms/status")
	t.Setenv("APP_TRUSTED_PROXY_CIDRS", "10.0.0.0/8,192.168.1.7")
	t.Setenv("APP_POSTGRES_MAX_CONNS", "25")
	t.Setenv("APP_POSTGRES_MAX_CONN_LIFETIME", "15m")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.False(t, cfg.WebhookValidationEnabled)
	assert.Equal(t, []string{"54.172.60.0/23", "34.203.250.0/23"}, cfg.WebhookAllowedCIDRs)
	assert.Equal(t, "https://example.org/webhooks/sms/status", cfg.WebhookPublicURL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.TrustedProxyCIDRs)
	assert.Equal(t, int32(25), cfg.PostgresMaxConns)
	assert.Equal(t, 15*time.Minute, cfg.PostgresMaxConnLifetime)
}

func TestLoad_PoolMinAboveMaxFails(t *testing.T) {
	t.Setenv("APP_TWILIO_AUTH_TOKEN", "token")
	t.Setenv("APP_SMS_PROVIDER", "mock")
	t.Setenv("APP_POSTGRES_MAX_CONNS", "2")
	t.Setenv("APP_POSTGRES_MIN_CONNS", "5")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PostgresMaxConns")
}

func TestLoad_MissingAuthTokenFails(t *testing.T) {
	t.Setenv("APP_SMS_PROVIDER", "mock")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TwilioAuthToken")
}

func TestLoad_TwilioProviderRequiresAccount(t *testing.T) {
	t.Setenv("APP_TWILIO_AUTH_TOKEN", "token")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TwilioAccountSID")
}

func TestLoad_UnknownStoreDriverFails(t *testing.T) {
	t.Setenv("APP_TWILIO_AUTH_TOKEN", "token")
	t.Setenv("APP_SMS_PROVIDER", "mock")
	t.Setenv("APP_STORE_DRIVER", "mongo")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "StoreDriver")
}
