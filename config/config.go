package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// DefaultEnvFile is the dotenv file read at startup when present.
const DefaultEnvFile = "config.env"

// MemoryDatabaseURL selects the in-process credential store.
const MemoryDatabaseURL = "memory://"

type Config struct {
	Env        string `env:"ENV" envDefault:"production"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`

	Database    DatabaseConfig
	Auth        AuthConfig
	ResetNotify ResetNotifyConfig
}

type DatabaseConfig struct {
	// URL is the storage connection string. When empty it is built from
	// the discrete fields below.
	URL         string `env:"DATABASE_URL"`
	Host        string `env:"DB_HOST" envDefault:"localhost"`
	Port        int    `env:"DB_PORT" envDefault:"5432"`
	User        string `env:"DB_USER" envDefault:"identity"`
	Password    string `env:"DB_PASSWORD" envDefault:"password"`
	DBName      string `env:"DB_NAME" envDefault:"identity_db"`
	UseSSL      bool   `env:"DB_SSL" envDefault:"false"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET"`
	TokenTTL   time.Duration `env:"JWT_EXPIRES_IN" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
}

type ResetNotifyConfig struct {
	// Backend is one of "none", "rabbitmq" or "pubsub".
	Backend  string `env:"RESET_NOTIFY_BACKEND" envDefault:"none"`
	Channel  string `env:"RESET_NOTIFY_CHANNEL" envDefault:"password-reset-requests"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH_COUNT" envDefault:"0"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

// LoadConfig reads the dotenv file at path (if it exists) and then the
// process environment. Values already set in the environment win.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("JWT_EXPIRES_IN must be positive, got %s", c.Auth.TokenTTL)
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be within [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}
	switch c.ResetNotify.Backend {
	case "", "none", "rabbitmq", "pubsub":
	default:
		return fmt.Errorf("unknown RESET_NOTIFY_BACKEND %q", c.ResetNotify.Backend)
	}
	return nil
}

// IsDev reports whether the service runs in development mode.
func (c Config) IsDev() bool {
	return c.Env == "dev" || c.Env == "development"
}

// DSN returns the storage connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	sslmode := "disable"
	if c.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		User:   url.UserPassword(c.User, c.Password),
		Path:   c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// InMemory reports whether the in-process store is selected.
func (c DatabaseConfig) InMemory() bool {
	return c.URL == MemoryDatabaseURL
}
