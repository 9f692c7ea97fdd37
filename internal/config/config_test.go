package config

import (
	"testing"
	"time"

	"github.com/GTDGit/gtd_ticketing/pkg/easebuzz"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "tickets")
	t.Setenv("DB_NAME", "tickets")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.InternalBaseURL != "http://127.0.0.1:9090" {
		t.Fatalf("internal base url = %q", cfg.InternalBaseURL)
	}
	if cfg.Gateway.Env != "sandbox" || cfg.Gateway.Timeout != 15*time.Second {
		t.Fatalf("gateway defaults = %+v", cfg.Gateway)
	}
	if cfg.Sync.DefaultBatchSize != 25 || cfg.Sync.MaxBatchSize != 100 {
		t.Fatalf("batch defaults = %+v", cfg.Sync)
	}
	if cfg.Sync.DefaultScanPageSize != 200 || cfg.Sync.MaxScanPageSize != 500 {
		t.Fatalf("scan defaults = %+v", cfg.Sync)
	}
	if cfg.Payment.EnforceAuth {
		t.Fatal("auth enforcement should default to off")
	}
	if cfg.Kafka.NotificationTopic != "payment.notifications" || len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("kafka defaults = %+v", cfg.Kafka)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAYMENT_ENFORCE_AUTH", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PENDING_SYNC_INTERVAL", "5m")
	t.Setenv("PUBLIC_BASE_URL", "https://tickets.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Payment.EnforceAuth {
		t.Fatal("expected auth enforcement")
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example.com" {
		t.Fatalf("cors origins = %v", cfg.CORSOrigins)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Fatalf("interval = %v", cfg.Sync.Interval)
	}
	if cfg.PublicBaseURL != "https://tickets.example.com" {
		t.Fatalf("public base url = %q", cfg.PublicBaseURL)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt", map[string]string{"JWT_SECRET": ""}},
		{"bad gateway env", map[string]string{"GATEWAY_ENV": "staging"}},
		{"production without gateway secrets", map[string]string{"ENV": "production"}},
		{"batch above max", map[string]string{"SYNC_DEFAULT_BATCH_SIZE": "200"}},
		{"bad duration", map[string]string{"GATEWAY_TIMEOUT": "soon"}},
		{"negative duration", map[string]string{"RECONCILE_LOCK_TTL": "-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadGatewayEndpointsFollowEnv(t *testing.T) {
	t.Run("sandbox", func(t *testing.T) {
		setBaseEnv(t)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gateway.InitiateURL != easebuzz.SandboxInitiateURL ||
			cfg.Gateway.PayURL != easebuzz.SandboxPayURL ||
			cfg.Gateway.RetrieveURL != easebuzz.SandboxRetrieveURL {
			t.Fatalf("sandbox endpoints = %+v", cfg.Gateway)
		}
	})

	t.Run("production", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("GATEWAY_ENV", "production")
		t.Setenv("GATEWAY_KEY", "live-key")
		t.Setenv("GATEWAY_SALT", "live-salt")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Gateway.IsProduction() {
			t.Fatal("gateway should be in production")
		}
		if cfg.Gateway.InitiateURL != easebuzz.ProductionInitiateURL ||
			cfg.Gateway.PayURL != easebuzz.ProductionPayURL ||
			cfg.Gateway.RetrieveURL != easebuzz.ProductionRetrieveURL {
			t.Fatalf("production endpoints = %+v", cfg.Gateway)
		}
	})

	t.Run("explicit url wins", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("GATEWAY_ENV", "production")
		t.Setenv("GATEWAY_KEY", "live-key")
		t.Setenv("GATEWAY_SALT", "live-salt")
		t.Setenv("GATEWAY_RETRIEVE_URL", "https://proxy.internal/retrieve")
		cfg, err := Load()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Gateway.RetrieveURL != "https://proxy.internal/retrieve" || cfg.Gateway.InitiateURL != easebuzz.ProductionInitiateURL {
			t.Fatalf("endpoints = %+v", cfg.Gateway)
		}
	})

	t.Run("production gateway requires secrets", func(t *testing.T) {
		setBaseEnv(t)
		t.Setenv("GATEWAY_ENV", "production")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}
