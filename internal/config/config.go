// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Config is the resolved service configuration. Every field maps to one
// environment variable.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR,default=:3048"`

	DBDriver   string `env:"DB_DRIVER,default=sqlite"`
	DBDSN      string `env:"DB_DSN"`
	DBHost     string `env:"DB_HOST,default=127.0.0.1"`
	DBPort     int    `env:"DB_PORT,default=3306"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME,default=blood_donation"`

	JWTSecret     string `env:"JWT_SECRET"`
	InternalToken string `env:"INTERNAL_TOKEN"`

	VAPIDPublicKey  string `env:"PUBLIC_VAPID_KEY"`
	VAPIDPrivateKey string `env:"PRIVATE_VAPID_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT,default=mailto:admin@blood-donation.app"`

	ExpoPushURL     string        `env:"EXPO_PUSH_URL,default=https://exp.host/--/api/v2/push/send"`
	ExpoAccessToken string        `env:"EXPO_ACCESS_TOKEN"`
	PushTimeout     time.Duration `env:"PUSH_TIMEOUT,default=10s"`
	PushConcurrency int           `env:"PUSH_CONCURRENCY,default=8"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`
	RedisChannel  string `env:"REDIS_CHANNEL,default=bloodlink:rooms"`

	SocketEventRate   float64 `env:"SOCKET_EVENT_RATE,default=20"`
	SocketEventBurst  int     `env:"SOCKET_EVENT_BURST,default=40"`
	SocketRequireAuth bool    `env:"SOCKET_REQUIRE_AUTH,default=false"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load reads an optional dotenv file and decodes the environment. Variables
// already set in the process win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver))
	}

	if c.PushConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("PUSH_CONCURRENCY must be positive, got %d", c.PushConcurrency))
	}
	if c.PushTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PUSH_TIMEOUT must be positive, got %s", c.PushTimeout))
	}
	if c.SocketEventRate <= 0 || c.SocketEventBurst <= 0 {
		errs = append(errs, errors.New("SOCKET_EVENT_RATE and SOCKET_EVENT_BURST must be positive"))
	}
	if c.SocketRequireAuth && c.JWTSecret == "" {
		errs = append(errs, errors.New("SOCKET_REQUIRE_AUTH needs JWT_SECRET"))
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		errs = append(errs, errors.New("PUBLIC_VAPID_KEY and PRIVATE_VAPID_KEY must be set together"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// DefaultSQLitePath is used when the sqlite driver has no DB_DSN.
const DefaultSQLitePath = "bloodlink.db"

// DSN returns the data source name for the configured driver. An explicit
// DB_DSN wins; for MySQL one is otherwise assembled from the DB_* parts.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver != "mysql" {
		return DefaultSQLitePath
	}

	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort))
	mc.DBName = c.DBName
	mc.ParseTime = false
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// WebPushEnabled reports whether VAPID credentials are configured.
func (c *Config) WebPushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// RedisEnabled reports whether room broadcasts are fanned out through Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}
