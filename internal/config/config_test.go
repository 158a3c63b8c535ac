package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/developerYeasin/blood-donation-backend/internal/config"
)

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDR", "DB_DRIVER", "DB_DSN", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
		"JWT_SECRET", "INTERNAL_TOKEN", "PUBLIC_VAPID_KEY", "PRIVATE_VAPID_KEY", "VAPID_SUBJECT",
		"EXPO_PUSH_URL", "EXPO_ACCESS_TOKEN", "PUSH_TIMEOUT", "PUSH_CONCURRENCY",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_CHANNEL",
		"SOCKET_EVENT_RATE", "SOCKET_EVENT_BURST", "SOCKET_REQUIRE_AUTH", "LOG_LEVEL", "LOG_FORMAT",
	} {
		if old, ok := os.LookupEnv(key); ok {
			_ = os.Unsetenv(key)
			t.Cleanup(func() { _ = os.Setenv(key, old) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.HTTPAddr != ":3048" {
		t.Errorf("HTTPAddr = %q, want :3048", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.DSN() != config.DefaultSQLitePath {
		t.Errorf("DSN() = %q, want %q", cfg.DSN(), config.DefaultSQLitePath)
	}
	if cfg.PushTimeout != 10*time.Second {
		t.Errorf("PushTimeout = %s, want 10s", cfg.PushTimeout)
	}
	if cfg.PushConcurrency != 8 {
		t.Errorf("PushConcurrency = %d, want 8", cfg.PushConcurrency)
	}
	if cfg.WebPushEnabled() || cfg.RedisEnabled() {
		t.Error("web push and redis should be disabled by default")
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "HTTP_ADDR=:9000\nPUSH_CONCURRENCY=3\nREDIS_ADDR=localhost:6379\nLOG_FORMAT=console\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, k := range []string{"HTTP_ADDR", "PUSH_CONCURRENCY", "REDIS_ADDR", "LOG_FORMAT"} {
			_ = os.Unsetenv(k)
		}
	})

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.PushConcurrency != 3 || !cfg.RedisEnabled() || cfg.LogFormat != "console" {
		t.Errorf("dotenv values not applied: %+v", cfg)
	}
}

func TestLoad_ProcessEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":7000")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HTTP_ADDR=:9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("HTTPAddr = %q, want :7000", cfg.HTTPAddr)
	}
}

func TestValidate(t *testing.T) {
	valid := func() config.Config {
		return config.Config{
			DBDriver:         "sqlite",
			PushTimeout:      time.Second,
			PushConcurrency:  1,
			SocketEventRate:  1,
			SocketEventBurst: 1,
			LogFormat:        "json",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"unknown driver", func(c *config.Config) { c.DBDriver = "postgres" }, "DB_DRIVER"},
		{"zero concurrency", func(c *config.Config) { c.PushConcurrency = 0 }, "PUSH_CONCURRENCY"},
		{"zero timeout", func(c *config.Config) { c.PushTimeout = 0 }, "PUSH_TIMEOUT"},
		{"zero burst", func(c *config.Config) { c.SocketEventBurst = 0 }, "SOCKET_EVENT_BURST"},
		{"half vapid pair", func(c *config.Config) { c.VAPIDPublicKey = "pub" }, "VAPID"},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"socket auth without secret", func(c *config.Config) { c.SocketRequireAuth = true }, "SOCKET_REQUIRE_AUTH"},
		{"socket auth with secret", func(c *config.Config) {
			c.SocketRequireAuth = true
			c.JWTSecret = "s"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}

func TestDSN_MySQLAssembled(t *testing.T) {
	cfg := config.Config{
		DBDriver:   "mysql",
		DBHost:     "db.internal",
		DBPort:     3307,
		DBUser:     "app",
		DBPassword: "secret",
		DBName:     "blood",
	}

	dsn := cfg.DSN()
	if !strings.HasPrefix(dsn, "app:secret@tcp(db.internal:3307)/blood") {
		t.Errorf("DSN() = %q", dsn)
	}
	if !strings.Contains(dsn, "charset=utf8mb4") {
		t.Errorf("DSN() = %q, missing charset", dsn)
	}

	cfg.DBDSN = "override"
	if cfg.DSN() != "override" {
		t.Errorf("explicit DB_DSN should win, got %q", cfg.DSN())
	}
}
