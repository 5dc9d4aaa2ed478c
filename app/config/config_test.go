package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"NODE_ENV", "APP_ENV", "PORT", "LOG_STYLE", "LOG_LEVEL", "MONGODB_URI", "MONGODB_DB",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"ABACATE_WEBHOOK_SECRET", "ABACATEPAY_WEBHOOK_SECRET", "ABACATEPAY_WEBHHOOK_SECRET",
	"ABACATEPAY_API_KEY", "ABACATEPAY_API_URL",
	"RESEND_API_KEY", "EMAIL_FROM", "APP_NAME", "APP_URL",
	"AUTH0_ISSUER", "AUTH0_AUDIENCE", "AUTH_DISABLED", "OPERATOR_SCOPE",
	"CORS_ALLOWED_ORIGINS", "ALERT_QUEUE_URL",
}

func clearEnv(t *testing.T) {
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.Logs.Level)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "mockup", cfg.Mongo.Database)
	assert.Equal(t, "https://api.abacatepay.com/v1", cfg.AbacatePay.APIURL)
	assert.Equal(t, "read:payments", cfg.Auth.OperatorScope)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.AbacatePay.WebhookSecret)
}

func TestAbacatePaySecretAliases(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"primary", map[string]string{"ABACATE_WEBHOOK_SECRET": "a", "ABACATEPAY_WEBHOOK_SECRET": "b"}, "a"},
		{"second", map[string]string{"ABACATEPAY_WEBHOOK_SECRET": "b", "ABACATEPAY_WEBHHOOK_SECRET": "c"}, "b"},
		{"legacy misspelling", map[string]string{"ABACATEPAY_WEBHHOOK_SECRET": "c"}, "c"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, tc.want, cfg.AbacatePay.WebhookSecret)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("ABACATEPAY_API_URL", "http://localhost:9999/v1/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.app, https://b.app,")
	t.Setenv("AUTH_DISABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "http://localhost:9999/v1", cfg.AbacatePay.APIURL)
	assert.Equal(t, []string{"https://a.app", "https://b.app"}, cfg.CORSOrigins)
	assert.True(t, cfg.Auth.Disabled)
}

func TestLoadConfigRejectsBadBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_DISABLED", "maybe")
	_, err := LoadConfig()
	assert.Error(t, err)
}
