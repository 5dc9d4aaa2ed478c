package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	// this will automatically load your .env file:
	_ "github.com/joho/godotenv/autoload"
)

const (
	defaultPort          = "8080"
	defaultMongoURI      = "mongodb://localhost:27017"
	defaultMongoDB       = "mockup"
	defaultAbacatePayURL = "https://api.abacatepay.com/v1"
	defaultOperatorScope = "read:payments"
)

type Config struct {
	Env           string
	Port          string
	Logs          LogConfig
	Mongo         MongoConfig
	Stripe        StripeConfig
	AbacatePay    AbacatePayConfig
	Email         EmailConfig
	Auth          AuthConfig
	CORSOrigins   []string
	AlertQueueURL string
}

type LogConfig struct {
	Style string // "json" or "console"; empty picks by environment
	Level string
}

type MongoConfig struct {
	URI      string
	Database string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type AbacatePayConfig struct {
	WebhookSecret string
	APIKey        string
	APIURL        string
}

type EmailConfig struct {
	ResendAPIKey string
	From         string
	AppName      string
	AppURL       string
}

type AuthConfig struct {
	Issuer        string
	Audience      string
	Disabled      bool
	OperatorScope string
}

func LoadConfig() (*Config, error) {
	authDisabled := false
	if v := strings.TrimSpace(os.Getenv("AUTH_DISABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse AUTH_DISABLED: %w", err)
		}
		authDisabled = b
	}

	cfg := &Config{
		Env:  firstEnv("production", "NODE_ENV", "APP_ENV"),
		Port: firstEnv(defaultPort, "PORT"),
		Logs: LogConfig{
			Style: os.Getenv("LOG_STYLE"),
			Level: firstEnv("info", "LOG_LEVEL"),
		},
		Mongo: MongoConfig{
			URI:      firstEnv(defaultMongoURI, "MONGODB_URI"),
			Database: firstEnv(defaultMongoDB, "MONGODB_DB"),
		},
		Stripe: StripeConfig{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		},
		AbacatePay: AbacatePayConfig{
			// The last name is a misspelling some deployments still use.
			WebhookSecret: firstEnv("", "ABACATE_WEBHOOK_SECRET", "ABACATEPAY_WEBHOOK_SECRET", "ABACATEPAY_WEBHHOOK_SECRET"),
			APIKey:        os.Getenv("ABACATEPAY_API_KEY"),
			APIURL:        strings.TrimRight(firstEnv(defaultAbacatePayURL, "ABACATEPAY_API_URL"), "/"),
		},
		Email: EmailConfig{
			ResendAPIKey: os.Getenv("RESEND_API_KEY"),
			From:         os.Getenv("EMAIL_FROM"),
			AppName:      firstEnv("Mockup", "APP_NAME"),
			AppURL:       os.Getenv("APP_URL"),
		},
		Auth: AuthConfig{
			Issuer:        os.Getenv("AUTH0_ISSUER"),
			Audience:      os.Getenv("AUTH0_AUDIENCE"),
			Disabled:      authDisabled,
			OperatorScope: firstEnv(defaultOperatorScope, "OPERATOR_SCOPE"),
		},
		CORSOrigins:   splitList(firstEnv("*", "CORS_ALLOWED_ORIGINS")),
		AlertQueueURL: os.Getenv("ALERT_QUEUE_URL"),
	}

	return cfg, nil
}

// IsDevelopment reports whether verbose diagnostics should be enabled.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// firstEnv returns the first non-empty variable among keys, or def.
func firstEnv(def string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
