package internal

import (
	"strings"
	"testing"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestStoreConfig_Driver(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown driver should fail validation")
	}

	cfg.Store.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without dsn should fail validation")
	}

	cfg.Store.Postgres.DSN = "postgres://localhost/contactlink"
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres with dsn should pass: %v", err)
	}
	if got := cfg.Store.StoreOptions(); got.PostgresDSN != cfg.Store.Postgres.DSN || got.Driver != "postgres" {
		t.Errorf("StoreOptions = %+v", got)
	}
}

func TestStoreConfig_TimeoutRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Timeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero store timeout should fail validation")
	}
}

func TestKafkaConfig(t *testing.T) {
	cfg := KafkaConfig{Topic: "t"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled kafka should pass: %v", err)
	}

	cfg.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("enabled kafka without brokers should fail")
	}

	cfg.Brokers = []string{"localhost:9092"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("enabled kafka with brokers should pass: %v", err)
	}
	if pc := cfg.PublisherConfig(); pc.Topic != "t" || len(pc.Brokers) != 1 {
		t.Errorf("PublisherConfig = %+v", pc)
	}
}

func TestMetricsConfig_PathClash(t *testing.T) {
	cfg := MetricsConfig{Enabled: true, Path: "/identify"}
	if err := cfg.Validate(); err == nil {
		t.Error("metrics path must not shadow API routes")
	}
}
