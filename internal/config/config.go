package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmorgan81/fluxlab/internal/flux"
	"github.com/samber/lo"
)

// Config is read from the environment. Either FluxAPIKey or FluxAPIKeyParam
// must be set; the latter names an SSM parameter holding the key.
type Config struct {
	FluxAPIKey      string
	FluxAPIKeyParam string
	FluxBaseURL     string
	PollInterval    time.Duration
	MaxPollAttempts int
	HTTPTimeout     time.Duration

	Bucket       string
	Distribution string
	PublicURL    string
	OutputDir    string

	LogLevel string
}

var (
	ErrMissingAPIKey = errors.New("FLUX_API_KEY or FLUX_API_KEY_PARAM is required")
	ErrNotPositive   = errors.New("value must be positive")
)

func Load() (*Config, error) {
	cfg := &Config{
		FluxAPIKey:      strings.TrimSpace(os.Getenv("FLUX_API_KEY")),
		FluxAPIKeyParam: strings.TrimSpace(os.Getenv("FLUX_API_KEY_PARAM")),
		FluxBaseURL:     getEnv("FLUX_BASE_URL", flux.DefaultBaseURL),
		Bucket:          os.Getenv("BUCKET"),
		Distribution:    os.Getenv("DISTRIBUTION"),
		PublicURL:       strings.TrimRight(os.Getenv("PUBLIC_URL"), "/"),
		OutputDir:       getEnv("OUTPUT_DIR", "."),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = getEnvDuration("FLUX_POLL_INTERVAL", flux.DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.MaxPollAttempts, err = getEnvInt("FLUX_MAX_POLL_ATTEMPTS", flux.DefaultMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getEnvDuration("HTTP_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}

	if cfg.FluxAPIKey == "" && cfg.FluxAPIKeyParam == "" {
		return nil, ErrMissingAPIKey
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	return lo.Ternary(v != "", v, fallback)
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	if i <= 0 {
		return 0, fmt.Errorf("parsing %s: %w", key, ErrNotPositive)
	}
	return i, nil
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		i, aerr := strconv.Atoi(v)
		if aerr != nil {
			return 0, fmt.Errorf("parsing %s: %w", key, err)
		}
		d = time.Duration(i) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("parsing %s: %w", key, ErrNotPositive)
	}
	return d, nil
}
