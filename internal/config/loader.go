package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"cway-mcp/pkg/logging"
)

const (
	userConfigDir  = ".config/cway-mcp"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns ~/.config/cway-mcp.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Variables already set are not overridden and missing files
// are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
		logging.Debug("ConfigLoader", "Loaded environment from %s", p)
	}
	return nil
}

// LoadConfig builds the configuration from defaults, config.yaml in
// configPath (optional) and CWAY_* environment variables, in that order of
// precedence, and validates the result.
func LoadConfig(configPath string) (Config, error) {
	config := GetDefaultConfig()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&config, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if config.Storage.TokenDir, err = expandHome(config.Storage.TokenDir); err != nil {
		return Config{}, err
	}
	if config.Storage.KeyFile, err = expandHome(config.Storage.KeyFile); err != nil {
		return Config{}, err
	}

	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides config with CWAY_* variables.
func applyEnv(c *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"CWAY_USERNAME":            &c.Username,
		"CWAY_API_URL":             &c.API.URL,
		"CWAY_API_TOKEN":           &c.Auth.APIToken,
		"CWAY_AUTH_METHOD":         &c.Auth.Method,
		"CWAY_AZURE_TENANT_ID":     &c.Auth.TenantID,
		"CWAY_AZURE_CLIENT_ID":     &c.Auth.ClientID,
		"CWAY_AZURE_REDIRECT_URI":  &c.Auth.RedirectURL,
		"CWAY_TOKEN_URL":           &c.Auth.TokenURL,
		"CWAY_CONFIRMATION_SECRET": &c.Confirmation.Secret,
		"CWAY_REDIS_ADDR":          &c.Confirmation.RedisAddr,
		"CWAY_REDIS_PASSWORD":      &c.Confirmation.RedisPassword,
		"CWAY_TOKEN_DIR":           &c.Storage.TokenDir,
		"CWAY_LISTEN":              &c.Server.Listen,
		"CWAY_TRANSPORT":           &c.Server.Transport,
		"CWAY_LOG_LEVEL":           &c.Logging.Level,
		"CWAY_LOG_FORMAT":          &c.Logging.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"CWAY_CONFIRMATION_TTL":  &c.Confirmation.TTL,
		"CWAY_REFRESH_THRESHOLD": &c.Auth.RefreshThreshold,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
		*dst = d
	}

	if v, ok := lookup("CWAY_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CWAY_REDIS_DB: invalid number %q", v)
		}
		c.Confirmation.RedisDB = n
	}

	// A bare API token without an explicit method or client id selects
	// static mode.
	if _, methodSet := lookup("CWAY_AUTH_METHOD"); !methodSet && c.Auth.APIToken != "" && c.Auth.ClientID == "" {
		c.Auth.Method = AuthMethodStatic
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not expand %s: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
