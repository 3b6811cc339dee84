package boltdriver

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigSaneValues(t *testing.T) {
	c := defaultConfig()
	if c.MaxConnectionPoolSize <= 0 {
		t.Fatalf("expected positive pool size, got %d", c.MaxConnectionPoolSize)
	}
	if c.MaxTransactionRetryTime <= 0 {
		t.Fatalf("expected positive retry time, got %v", c.MaxTransactionRetryTime)
	}
	if c.TransactionRetryDelayMultiplier <= 1.0 {
		t.Fatalf("expected multiplier > 1, got %v", c.TransactionRetryDelayMultiplier)
	}
}

func TestNewConfigAppliesOptions(t *testing.T) {
	c := newConfig(
		WithUserAgent("custom-agent/1.0"),
		WithMaxConnectionPoolSize(7),
		WithMaxTransactionRetryTime(5*time.Second),
	)
	if c.UserAgent != "custom-agent/1.0" {
		t.Fatalf("unexpected user agent: %s", c.UserAgent)
	}
	if c.MaxConnectionPoolSize != 7 {
		t.Fatalf("unexpected pool size: %d", c.MaxConnectionPoolSize)
	}
	if c.MaxTransactionRetryTime != 5*time.Second {
		t.Fatalf("unexpected retry time: %v", c.MaxTransactionRetryTime)
	}
}

func TestConfigFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("NORNICDB_BOLT_USER_AGENT", "env-agent/2.0")
	t.Setenv("NORNICDB_BOLT_MAX_POOL_SIZE", "42")
	t.Setenv("NORNICDB_BOLT_ROUTING_ENABLED", "false")

	c := ConfigFromEnv()
	if c.UserAgent != "env-agent/2.0" {
		t.Fatalf("unexpected user agent: %s", c.UserAgent)
	}
	if c.MaxConnectionPoolSize != 42 {
		t.Fatalf("unexpected pool size: %d", c.MaxConnectionPoolSize)
	}
	if c.ClientSideRoutingEnabled {
		t.Fatalf("expected routing disabled")
	}
}

func TestConfigFromEnvFallsBackOnBadValues(t *testing.T) {
	t.Setenv("NORNICDB_BOLT_MAX_POOL_SIZE", "not-a-number")
	c := ConfigFromEnv()
	if c.MaxConnectionPoolSize != defaultConfig().MaxConnectionPoolSize {
		t.Fatalf("expected fallback to default on bad env value, got %d", c.MaxConnectionPoolSize)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	const yamlBody = `
user_agent: yaml-agent/1.0
max_connection_pool_size: 25
max_connection_lifetime_ms: 120000
client_side_routing_enabled: false
`
	f, err := os.CreateTemp(t.TempDir(), "bolt-config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	if _, err := f.WriteString(yamlBody); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	f.Close()

	c, err := LoadYAMLConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.UserAgent != "yaml-agent/1.0" {
		t.Fatalf("unexpected user agent: %s", c.UserAgent)
	}
	if c.MaxConnectionPoolSize != 25 {
		t.Fatalf("unexpected pool size: %d", c.MaxConnectionPoolSize)
	}
	if c.MaxConnectionLifetime != 120*time.Second {
		t.Fatalf("unexpected lifetime: %v", c.MaxConnectionLifetime)
	}
	if c.ClientSideRoutingEnabled {
		t.Fatalf("expected routing disabled from yaml")
	}
}

func TestLoadYAMLConfigMissingFile(t *testing.T) {
	if _, err := LoadYAMLConfig("/nonexistent/path.yaml"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSessionConfigValidate(t *testing.T) {
	cases := []struct {
		size    int
		wantErr bool
	}{
		{size: 1000, wantErr: false},
		{size: -1, wantErr: false},
		{size: 0, wantErr: true},
		{size: -2, wantErr: true},
	}
	for _, tc := range cases {
		err := SessionConfig{FetchSize: tc.size}.validate()
		if tc.wantErr && err == nil {
			t.Errorf("fetch size %d: expected error, got nil", tc.size)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("fetch size %d: unexpected error: %v", tc.size, err)
		}
	}
}
