package config

import "time"

// Config is the top-level configuration structure for cway-mcp.
type Config struct {
	// Username is the default acting user for CLI commands and stdio mode.
	Username     string             `yaml:"username,omitempty"`
	API          APIConfig          `yaml:"api"`
	Auth         AuthConfig         `yaml:"auth"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Storage      StorageConfig      `yaml:"storage"`
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Authentication methods.
const (
	AuthMethodOAuth  = "oauth"
	AuthMethodStatic = "static"
)

// MCP transports.
const (
	// MCPTransportStreamableHTTP is the streamable HTTP transport.
	MCPTransportStreamableHTTP = "streamable-http"
	// MCPTransportStdio is the standard I/O transport.
	MCPTransportStdio = "stdio"
)

// APIConfig points at the Cway GraphQL API.
type APIConfig struct {
	URL        string        `yaml:"url" validate:"required,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries uint          `yaml:"maxRetries" validate:"gte=1,lte=10"`
}

// AuthConfig configures how users obtain Cway tokens.
type AuthConfig struct {
	// Method is "oauth" (per-user login) or "static" (one shared API token).
	Method string `yaml:"method" validate:"oneof=oauth static"`

	TenantID     string   `yaml:"tenantId" validate:"required"`
	ClientID     string   `yaml:"clientId,omitempty" validate:"required_if=Method oauth"`
	AuthorizeURL string   `yaml:"authorizeUrl,omitempty" validate:"omitempty,url"`
	IDPTokenURL  string   `yaml:"idpTokenUrl,omitempty" validate:"omitempty,url"`
	TokenURL     string   `yaml:"tokenUrl" validate:"required,url"`
	RedirectURL  string   `yaml:"redirectUrl" validate:"required,url"`
	Scopes       []string `yaml:"scopes" validate:"min=1,dive,required"`

	HTTPTimeout      time.Duration `yaml:"httpTimeout" validate:"gt=0"`
	RefreshThreshold time.Duration `yaml:"refreshThreshold" validate:"gt=0"`
	LoginExpiry      time.Duration `yaml:"loginExpiry" validate:"gt=0"`

	// APIToken is used when Method is "static". Prefer CWAY_API_TOKEN.
	APIToken string `yaml:"apiToken,omitempty" validate:"required_if=Method static"`
}

// ConfirmationConfig configures destructive-operation confirmation tokens.
type ConfirmationConfig struct {
	// Secret signs tokens. Empty means a random per-process secret, so
	// outstanding tokens do not survive a restart.
	Secret          string        `yaml:"secret,omitempty" validate:"omitempty,min=16"`
	TTL             time.Duration `yaml:"ttl" validate:"gt=0"`
	Retention       time.Duration `yaml:"retention" validate:"gtefield=TTL"`
	JanitorInterval time.Duration `yaml:"janitorInterval" validate:"gt=0"`

	// RedisAddr enables the shared consumed-token registry.
	RedisAddr     string `yaml:"redisAddr,omitempty" validate:"omitempty,hostname_port"`
	RedisPassword string `yaml:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDb,omitempty" validate:"gte=0"`
}

// StorageConfig locates the encrypted session files.
type StorageConfig struct {
	TokenDir string `yaml:"tokenDir" validate:"required"`
	KeyFile  string `yaml:"keyFile" validate:"required"`
	// Watch reloads sessions changed by other processes, e.g. the CLI.
	Watch bool `yaml:"watch"`
}

// ServerConfig configures the MCP server and its HTTP listener.
type ServerConfig struct {
	Listen    string `yaml:"listen" validate:"required,hostname_port"`
	Transport string `yaml:"transport" validate:"oneof=stdio streamable-http"`
	Metrics   bool   `yaml:"metrics"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}
