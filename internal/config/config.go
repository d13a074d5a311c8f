// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/owsgate/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Service  ServiceConfig  `mapstructure:"service"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Coverage CoverageConfig `mapstructure:"coverage"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Download DownloadConfig `mapstructure:"download"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"` // public URL used in capabilities
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// ServiceConfig holds the service metadata reported in capabilities.
type ServiceConfig struct {
	Title             string        `mapstructure:"title"`
	Abstract          string        `mapstructure:"abstract"`
	Keywords          []string      `mapstructure:"keywords"`
	Fees              string        `mapstructure:"fees"`
	AccessConstraints string        `mapstructure:"access_constraints"`
	ProviderName      string        `mapstructure:"provider_name"`
	ProviderSite      string        `mapstructure:"provider_site"`
	Contact           ContactConfig `mapstructure:"contact"`
}

// ContactConfig holds the service contact.
type ContactConfig struct {
	Name     string `mapstructure:"name"`
	Position string `mapstructure:"position"`
	Phone    string `mapstructure:"phone"`
	Email    string `mapstructure:"email"`
	Address  string `mapstructure:"address"`
	City     string `mapstructure:"city"`
	Country  string `mapstructure:"country"`
}

// CatalogConfig holds catalog store and seed configuration.
type CatalogConfig struct {
	Store           string        `mapstructure:"store"` // explicit store override: memory, sqlite
	SeedPrefix      string        `mapstructure:"seed_prefix"`
	SeedDir         string        `mapstructure:"seed_dir"` // local directory watched for seed changes
	Watch           bool          `mapstructure:"watch"`
	SyncInterval    time.Duration `mapstructure:"sync_interval"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	SQLiteObjectKey string        `mapstructure:"sqlite_object_key"` // prebuilt database fetched from storage
}

// CoverageConfig holds the coverage store configuration.
type CoverageConfig struct {
	Definitions string `mapstructure:"definitions"` // object key of the definitions file
}

// Enabled reports whether WCS is served.
func (c *CoverageConfig) Enabled() bool {
	return c.Definitions != ""
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string      `mapstructure:"type"` // s3, azure, http, local
	LocalPath string      `mapstructure:"local_path"`
	S3        S3Config    `mapstructure:"s3"`
	Azure     AzureConfig `mapstructure:"azure"`
	HTTP      HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// DownloadConfig holds DirectDownload configuration.
type DownloadConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool         `mapstructure:"enabled"`
	Domains  []string     `mapstructure:"domains"`
	Email    string       `mapstructure:"email"`
	CacheDir string       `mapstructure:"cache_dir"`
	Staging  bool         `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      TLSDNSConfig `mapstructure:"dns"`
}

// TLSDNSConfig holds the Azure DNS settings for DNS-01 challenges.
type TLSDNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.idle_timeout", 120*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Service defaults
	viper.SetDefault("service.title", "owsgate")
	viper.SetDefault("service.abstract", "OGC catalogue, feature and coverage services")
	viper.SetDefault("service.fees", "NONE")
	viper.SetDefault("service.access_constraints", "NONE")

	// Catalog defaults
	viper.SetDefault("catalog.seed_prefix", "seeds/")
	viper.SetDefault("catalog.watch", false)
	viper.SetDefault("catalog.sync_interval", 5*time.Minute)

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Download defaults
	viper.SetDefault("download.enabled", true)
	viper.SetDefault("download.cache_size", 256)
	viper.SetDefault("download.cache_ttl", 5*time.Minute)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "owsgate")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// OWSGATE_CATALOG_STORE overrides catalog.store
	viper.SetEnvPrefix("OWSGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/owsgate")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)}
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return &domain.ConfigError{Field: "tls.domains", Message: "TLS enabled but no domains specified"}
		}
		if c.TLS.Email == "" {
			return &domain.ConfigError{Field: "tls.email", Message: "TLS enabled but no email specified"}
		}
	}

	switch strings.ToLower(c.Catalog.Store) {
	case "", "memory", "sqlite":
	default:
		return &domain.ConfigError{Field: "catalog.store", Message: fmt.Sprintf("unknown store %q", c.Catalog.Store)}
	}
	if c.Catalog.SyncInterval < 0 {
		return &domain.ConfigError{Field: "catalog.sync_interval", Message: "must not be negative"}
	}
	if c.Catalog.Watch && c.Catalog.SeedDir == "" && c.Storage.Type != "local" {
		return &domain.ConfigError{Field: "catalog.seed_dir", Message: "watching seeds needs a local seed directory"}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return &domain.ConfigError{Field: "storage.local_path", Message: "local storage path is required"}
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return &domain.ConfigError{Field: "storage.s3.bucket", Message: "S3 bucket is required"}
		}
		if c.Storage.S3.Region == "" {
			return &domain.ConfigError{Field: "storage.s3.region", Message: "S3 region is required"}
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return &domain.ConfigError{Field: "storage.azure.container", Message: "azure container is required"}
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return &domain.ConfigError{Field: "storage.azure", Message: "azure account name or connection string is required"}
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return &domain.ConfigError{Field: "storage.http.base_url", Message: "HTTP base URL is required"}
		}
	default:
		return &domain.ConfigError{Field: "storage.type", Message: fmt.Sprintf("unknown storage type %q", c.Storage.Type)}
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PublicURL returns the base URL advertised in capabilities.
func (c *ServerConfig) PublicURL() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// ServiceInfo converts the service section into the domain metadata.
func (c *Config) ServiceInfo() domain.ServiceInfo {
	s := c.Service
	return domain.ServiceInfo{
		Title:             s.Title,
		Abstract:          s.Abstract,
		Keywords:          s.Keywords,
		Fees:              s.Fees,
		AccessConstraints: s.AccessConstraints,
		OnlineResource:    c.Server.PublicURL(),
		ProviderName:      s.ProviderName,
		ProviderSite:      s.ProviderSite,
		Contact: domain.Contact{
			IndividualName: s.Contact.Name,
			PositionName:   s.Contact.Position,
			Phone:          s.Contact.Phone,
			Email:          s.Contact.Email,
			Address:        s.Contact.Address,
			City:           s.Contact.City,
			Country:        s.Contact.Country,
		},
	}
}
