package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Registry RegistryConfig `mapstructure:"registry"`
	History  HistoryConfig  `mapstructure:"history"`
	OPCUA    OPCUAConfig    `mapstructure:"opcua"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// RegistryConfig selects the registration store backend.
type RegistryConfig struct {
	Backend         string   `mapstructure:"backend"`
	SeedFile        string   `mapstructure:"seed_file"`
	SearchPaths     []string `mapstructure:"search_paths"`
	DefaultPageSize int      `mapstructure:"default_page_size"`
	MaxPageSize     int      `mapstructure:"max_page_size"`
}

type HistoryConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type OPCUAConfig struct {
	ApplicationName string        `mapstructure:"application_name"`
	ApplicationURI  string        `mapstructure:"application_uri"`
	CertificateFile string        `mapstructure:"certificate_file"`
	PrivateKeyFile  string        `mapstructure:"private_key_file"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	JWTSecretEnv string `mapstructure:"jwt_secret_env"`
	Issuer       string `mapstructure:"issuer"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("REG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.seed_file", "endpoints.yaml")
	v.SetDefault("registry.search_paths", []string{"./configs", "/etc/endpoint-registry"})
	v.SetDefault("registry.default_page_size", 100)
	v.SetDefault("registry.max_page_size", 1000)

	v.SetDefault("history.request_timeout", "30s")

	v.SetDefault("opcua.application_name", "EndpointRegistry")
	v.SetDefault("opcua.request_timeout", "10s")
	v.SetDefault("opcua.probe_interval", "30s")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.issuer", "endpoint-registry")
}

func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown registry backend %q (want memory or postgres)", c.Registry.Backend)
	}
	if c.Registry.DefaultPageSize <= 0 || c.Registry.MaxPageSize < c.Registry.DefaultPageSize {
		return fmt.Errorf("invalid page sizes: default %d, max %d",
			c.Registry.DefaultPageSize, c.Registry.MaxPageSize)
	}
	if c.History.RequestTimeout <= 0 {
		return fmt.Errorf("history.request_timeout must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// GetJWTSecret reads the signing secret from the configured environment variable.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}
