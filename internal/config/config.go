package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment           string
	DBHost                string
	DBPort                string
	DBUsername            string
	DBPassword            string
	DBName                string
	DBSSLMode             string
	DBMaxConns            int
	DBMinConns            int
	DBMaxConnLifetime     time.Duration
	Port                  string
	Timezone              string
	JWTSecret             string
	AccessTokenTTL        time.Duration
	RefreshCookieName     string
	RefreshCookieMaxAge   time.Duration
	CookieSecure          bool
	CookieSameSite        http.SameSite
	SMTPAddress           string
	SMTPUsername          string
	SMTPPassword          string
	MailFrom              string
	WebSocketMaxPerTenant int
}

func NewConfig() (*Config, error) {
	env := os.Getenv("UPDATEAGENT_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	accessMinutes, err := getIntOrDefault("UPDATEAGENT_ACCESS_TOKEN_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	refreshDays, err := getIntOrDefault("UPDATEAGENT_REFRESH_COOKIE_DAYS", 30)
	if err != nil {
		return nil, err
	}
	wsMax, err := getIntOrDefault("UPDATEAGENT_WS_MAX_PER_TENANT", 10)
	if err != nil {
		return nil, err
	}
	dbMaxConns, err := getIntOrDefault("UPDATEAGENT_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	dbMinConns, err := getIntOrDefault("UPDATEAGENT_DB_MIN_CONNS", 1)
	if err != nil {
		return nil, err
	}
	dbLifetimeMinutes, err := getIntOrDefault("UPDATEAGENT_DB_CONN_LIFETIME_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	sameSite, err := parseSameSite(getEnvOrDefault("UPDATEAGENT_COOKIE_SAMESITE", "lax"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Environment:           env,
		DBHost:                getEnvOrDefault("UPDATEAGENT_DB_HOST", "localhost"),
		DBPort:                getEnvOrDefault("UPDATEAGENT_DB_PORT", "5432"),
		DBUsername:            getEnvOrDefault("UPDATEAGENT_DB_USER", "updateagent"),
		DBPassword:            os.Getenv("UPDATEAGENT_DB_PASSWORD"),
		DBName:                getEnvOrDefault("UPDATEAGENT_DB_NAME", "updateagent"),
		DBSSLMode:             getEnvOrDefault("UPDATEAGENT_DB_SSLMODE", "disable"),
		DBMaxConns:            dbMaxConns,
		DBMinConns:            dbMinConns,
		DBMaxConnLifetime:     time.Duration(dbLifetimeMinutes) * time.Minute,
		Port:                  getEnvOrDefault("PORT", "8080"),
		Timezone:              getEnvOrDefault("TZ", "UTC"),
		JWTSecret:             os.Getenv("UPDATEAGENT_JWT_SECRET"),
		AccessTokenTTL:        time.Duration(accessMinutes) * time.Minute,
		RefreshCookieName:     getEnvOrDefault("UPDATEAGENT_REFRESH_COOKIE_NAME", "refresh_token"),
		RefreshCookieMaxAge:   time.Duration(refreshDays) * 24 * time.Hour,
		CookieSecure:          os.Getenv("UPDATEAGENT_COOKIE_SECURE") == "true",
		CookieSameSite:        sameSite,
		SMTPAddress:           os.Getenv("UPDATEAGENT_SMTP_ADDR"),
		SMTPUsername:          os.Getenv("UPDATEAGENT_SMTP_USER"),
		SMTPPassword:          os.Getenv("UPDATEAGENT_SMTP_PASSWORD"),
		MailFrom:              getEnvOrDefault("UPDATEAGENT_MAIL_FROM", "updates@localhost"),
		WebSocketMaxPerTenant: wsMax,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("UPDATEAGENT_JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("UPDATEAGENT_JWT_SECRET must be at least 32 characters")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("UPDATEAGENT_DB_PASSWORD is required")
	}

	if c.DBMaxConns <= 0 {
		return fmt.Errorf("UPDATEAGENT_DB_MAX_CONNS must be positive")
	}

	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("UPDATEAGENT_DB_MIN_CONNS must be between 0 and UPDATEAGENT_DB_MAX_CONNS (%d)", c.DBMaxConns)
	}

	if c.DBMaxConnLifetime <= 0 {
		return fmt.Errorf("UPDATEAGENT_DB_CONN_LIFETIME_MINUTES must be positive")
	}

	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("UPDATEAGENT_ACCESS_TOKEN_MINUTES must be positive")
	}

	if c.RefreshCookieMaxAge <= 0 {
		return fmt.Errorf("UPDATEAGENT_REFRESH_COOKIE_DAYS must be positive")
	}

	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return fmt.Errorf("UPDATEAGENT_COOKIE_SAMESITE=none requires UPDATEAGENT_COOKIE_SECURE=true")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// MailEnabled reports whether sent drafts should be delivered over SMTP.
func (c *Config) MailEnabled() bool {
	return c.SMTPAddress != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.ToLower(value) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("UPDATEAGENT_COOKIE_SAMESITE must be one of lax, strict, none (got %q)", value)
	}
}
