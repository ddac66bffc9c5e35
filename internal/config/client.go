package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ClientConfig holds settings for the command-line client.
type ClientConfig struct {
	APIURL string
	Email  string
}

// NewClientConfig reads the client settings from the environment.
// A .env file in the working directory is loaded if present.
func NewClientConfig() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{
		APIURL: getEnvOrDefault("UPDATEAGENT_API_URL", "http://localhost:8080"),
		Email:  os.Getenv("UPDATEAGENT_EMAIL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that APIURL is an absolute http(s) URL and normalizes it
// by dropping any trailing slash.
func (c *ClientConfig) Validate() error {
	parsed, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("UPDATEAGENT_API_URL is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("UPDATEAGENT_API_URL must use http or https (got %q)", c.APIURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("UPDATEAGENT_API_URL must include a host (got %q)", c.APIURL)
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return nil
}
