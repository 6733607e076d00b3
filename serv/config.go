package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/querygate/querygate/serv/internal/util"
)

// Configuration for the QueryGate service
type Config struct {
	Serv `mapstructure:",squash"`

	viper *viper.Viper
}

// Configuration for the QueryGate service
type Serv struct {
	// Application name is used in log and debug messages
	AppName string `mapstructure:"app_name"`

	// When enabled runs the service with production level security defaults
	Production bool

	// The default path to find all configuration files
	ConfigPath string `mapstructure:"config_path"`

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level"`

	// Logging Format: "auto" (colored console in dev, JSON in production),
	// "json" (always JSON), or "simple" (always colored console)
	LogFormat string `mapstructure:"log_format"`

	// The host and port the service runs on. Example localhost:8080
	HostPort string `mapstructure:"host_port"`

	// Host to run the service on
	Host string

	// Port to run the service on
	Port string

	// Sets the API rate limits
	RateLimiter RateLimiter `mapstructure:"rate_limiter"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers"`

	// Enables debug logs for CORS
	DebugCORS bool `mapstructure:"cors_debug"`

	// Sets the authentication used by the service
	Auth Auth

	// Request store database configuration
	DB Database `mapstructure:"database"`

	// Connection targets that requests may be submitted against
	Instances []Instance

	// Script execution configuration
	Script Script

	// Metadata discovery configuration
	Discovery Discovery
}

// Auth configures how principals are established
type Auth struct {
	// When true the service trusts X-User-* headers instead of JWTs.
	// Never enable this in production
	Development bool

	// HMAC secret used to verify bearer tokens
	SecretKey string `mapstructure:"secret_key"`
}

// Database configures the Postgres store holding the requests themselves.
// When the connection string is empty an in-memory store is used
type Database struct {
	ConnString string `mapstructure:"connection_string"`

	// Size of database connection pool
	PoolSize int `mapstructure:"pool_size"`

	// Database ping timeout is used for db health checking
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// Instance is one connection target developers can submit against
type Instance struct {
	ID   string
	Name string

	// Kind is postgres or mongodb
	Kind string

	ConnString string `mapstructure:"connection_string"`

	// Schema applied via search_path on relational targets
	Schema string
}

// Script configures the isolated script interpreter
type Script struct {
	// Interpreter binary, mongosh by default
	Command string

	// Directory scripts are staged into before execution
	Dir string

	// Per-run wall clock limit
	Timeout time.Duration
}

// Discovery configures metadata caching
type Discovery struct {
	// How long discovered database and schema lists are cached
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RateLimiter sets the API rate limits
type RateLimiter struct {
	// The number of events per second
	Rate float64

	// Bucket a burst of at most 'bucket' number of events
	Bucket int

	// The header that contains the client ip
	IPHeader string `mapstructure:"ip_header"`
}

// ReadInConfig function reads in the config file for the environment specified
// in the GO_ENV environment variable
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesystem as
// an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	if pcf := vi.GetString("inherits"); pcf != "" {
		cf := vi.ConfigFileUsed()
		vi = newViper(cp, pcf)
		if fs != nil {
			vi.SetFs(fs)
		}

		if err := vi.ReadInConfig(); err != nil {
			return nil, err
		}

		if value := vi.GetString("inherits"); value != "" {
			return nil, fmt.Errorf("inherited config '%s' cannot itself inherit '%s'", pcf, value)
		}

		vi.SetConfigFile(cf)

		if err := vi.MergeInConfig(); err != nil {
			return nil, err
		}
	}

	for _, e := range os.Environ() {
		if strings.HasPrefix(e, "QG_") {
			kv := strings.SplitN(e, "=", 2)
			util.SetKeyValue(vi, kv[0], kv[1])
		}
	}

	config := &Config{viper: vi}
	config.ConfigPath = cp

	if err := vi.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return config, nil
}

// NewConfig creates a configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: vi}

	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return c, nil
}

func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("app_name", "QueryGate")
	vi.SetDefault("host_port", "0.0.0.0:8080")

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("database.pool_size", 10)
	vi.SetDefault("database.ping_timeout", "5s")

	vi.SetDefault("script.command", "mongosh")
	vi.SetDefault("script.timeout", "30s")

	vi.SetDefault("discovery.cache_ttl", "5m")

	vi.SetDefault("env", "development")

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck
	vi.BindEnv("host", "HOST")  //nolint:errcheck
	vi.BindEnv("port", "PORT")  //nolint:errcheck

	return vi
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// AbsolutePath returns the absolute path of the file
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigPath, p)
}

// rateLimiterEnable returns true if the rate limiter is enabled
func (c *Config) rateLimiterEnable() bool {
	return c.RateLimiter.Rate > 0 && c.RateLimiter.Bucket > 0
}

// hostPort returns the host and port the service should listen on
func (c *Config) hostPort() string {
	if c.Host != "" || c.Port != "" {
		host, port := c.Host, c.Port
		if host == "" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return host + ":" + port
	}
	if c.HostPort != "" {
		return c.HostPort
	}
	return defaultHP
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
// Returns true if log_format is "json" OR if log_format is "auto" and
// production mode is enabled
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	if c.LogFormat == "auto" && c.Production {
		return true
	}
	return false
}

// GetConfigName returns the name of the configuration
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	case "development", "dev", "":
		return "dev"

	default:
		return goEnv
	}
}
