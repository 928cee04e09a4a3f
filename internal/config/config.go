package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "carelinkbridge/libs/config"
)

// CarelinkConfig configures the Carelink session and poller.
type CarelinkConfig struct {
	Country            string        `yaml:"country" env:"CARELINK_COUNTRY"`
	PatientID          string        `yaml:"patientId" env:"CARELINK_PATIENT_ID"`
	LogindataFile      string        `yaml:"logindataFile" env:"CARELINK_LOGINDATA_FILE"`
	TokenRefreshMargin time.Duration `yaml:"tokenRefreshMargin" env:"CARELINK_TOKEN_REFRESH_MARGIN"`
}

// NightscoutConfig configures the relay target. Both fields must be set for
// forwarding to be enabled.
type NightscoutConfig struct {
	URL       string `yaml:"url" env:"NIGHTSCOUT_URL"`
	APISecret string `yaml:"apiSecret" env:"NIGHTSCOUT_API_SECRET"`
}

// HTTPConfig configures the bridge API.
type HTTPConfig struct {
	Port          string `yaml:"port" env:"BRIDGE_HTTP_PORT"`
	APISecretHash string `yaml:"apiSecretHash" env:"BRIDGE_API_SECRET_HASH"`
}

// Config defines bridge configuration.
type Config struct {
	Carelink   CarelinkConfig   `yaml:"carelink"`
	Nightscout NightscoutConfig `yaml:"nightscout"`
	HTTP       HTTPConfig       `yaml:"http"`

	Poll struct {
		IntervalSeconds int `yaml:"intervalSeconds" env:"POLL_INTERVAL_SECONDS"`
	} `yaml:"poll"`

	Postgres struct {
		DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	HTTPClient struct {
		TimeoutSeconds int `yaml:"timeoutSeconds" env:"BRIDGE_HTTP_TIMEOUT"`
	} `yaml:"httpClient"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.Carelink.LogindataFile = "logindata.json"
	cfg.Carelink.TokenRefreshMargin = 10 * time.Minute
	cfg.HTTP.Port = "8080"
	cfg.Poll.IntervalSeconds = 60
	cfg.HTTPClient.TimeoutSeconds = 30

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Carelink.Country) == "" {
		return nil, errors.New("config: carelink country required")
	}
	if strings.TrimSpace(cfg.Postgres.DSN) == "" {
		return nil, errors.New("config: postgres dsn required")
	}
	if (cfg.Nightscout.URL == "") != (cfg.Nightscout.APISecret == "") {
		return nil, errors.New("config: nightscout url and apiSecret must be set together")
	}
	return cfg, nil
}

// NightscoutEnabled reports whether forwarding is configured.
func (c *Config) NightscoutEnabled() bool {
	return c.Nightscout.URL != "" && c.Nightscout.APISecret != ""
}

// PollInterval returns the scan interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// HTTPTimeout returns the outbound http client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	if c.HTTPClient.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTPClient.TimeoutSeconds) * time.Second
}
