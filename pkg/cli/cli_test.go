package cli

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("CHARTDEPLOY_TEST_ENV", "custom-value")

	if got := getEnvString("CHARTDEPLOY_TEST_ENV", "default"); got != "custom-value" {
		t.Fatalf("expected env override, got %s", got)
	}

	if got := getEnvString("CHARTDEPLOY_UNKNOWN_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("CHARTDEPLOY_BOOL_TRUE", "true")
	if !getEnvBool("CHARTDEPLOY_BOOL_TRUE", false) {
		t.Fatal("expected true when env variable explicitly true")
	}

	t.Setenv("CHARTDEPLOY_BOOL_FALSE", "false")
	if getEnvBool("CHARTDEPLOY_BOOL_FALSE", true) {
		t.Fatal("expected false when env variable explicitly false")
	}

	t.Setenv("CHARTDEPLOY_BOOL_INVALID", "sometimes")
	if !getEnvBool("CHARTDEPLOY_BOOL_INVALID", true) {
		t.Fatal("expected fallback default when env value invalid")
	}

	if getEnvBool("CHARTDEPLOY_BOOL_MISSING", false) {
		t.Fatal("expected default false when env missing")
	}
}

func TestGetEnvBool_AllVariants(t *testing.T) {
	for _, val := range []string{"true", "TRUE", "True", "1", "yes", "YES"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", val)
			assert.True(t, getEnvBool("TEST_BOOL", false), "expected true for %q", val)
		})
	}
	for _, val := range []string{"false", "FALSE", "0", "no", "No"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("TEST_BOOL", val)
			assert.False(t, getEnvBool("TEST_BOOL", true), "expected false for %q", val)
		})
	}
}

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "./config.yaml", cfg.ConfigPath)
	assert.Empty(t, cfg.ListenAddress)
	assert.Equal(t, "30s", cfg.ShutdownTimeout)
}

func TestParseArgsEnvironmentFallback(t *testing.T) {
	t.Setenv("CHARTDEPLOY_CONFIG_PATH", "/etc/chartdeploy/config.yaml")
	t.Setenv("CHARTDEPLOY_DEBUG", "1")
	t.Setenv("POD_NAMESPACE", "chartdeploy-system")

	cfg, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/chartdeploy/config.yaml", cfg.ConfigPath)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "chartdeploy-system", cfg.PodNamespace)
}

func TestParseArgsFlagsWinOverEnvironment(t *testing.T) {
	t.Setenv("CHARTDEPLOY_LISTEN_ADDRESS", ":9000")

	cfg, err := ParseArgs([]string{"--listen-address", ":7000", "--debug"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddress)
	assert.True(t, cfg.Debug)

	_, err = ParseArgs([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestDisableHTTP2(t *testing.T) {
	cfg := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	DisableHTTP2(cfg)

	if len(cfg.NextProtos) != 1 || cfg.NextProtos[0] != "http/1.1" {
		t.Fatalf("expected HTTP/1.1 only, got %v", cfg.NextProtos)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		defaultVal  time.Duration
		expected    time.Duration
		expectError bool
	}{
		{name: "valid duration 10m", value: "10m", defaultVal: 5 * time.Minute, expected: 10 * time.Minute},
		{name: "valid duration 30s", value: "30s", defaultVal: 5 * time.Minute, expected: 30 * time.Second},
		{name: "empty value uses default", value: "", defaultVal: 5 * time.Minute, expected: 5 * time.Minute},
		{name: "invalid duration uses default", value: "invalid", defaultVal: 5 * time.Minute, expected: 5 * time.Minute, expectError: true},
		{name: "numeric without unit uses default", value: "100", defaultVal: 5 * time.Minute, expected: 5 * time.Minute, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseDuration("test-flag", tt.value, tt.defaultVal)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseShutdownTimeout(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	assert.Equal(t, 2*time.Minute, ParseShutdownTimeout("2m", logger))
	assert.Equal(t, DefaultShutdownTimeout, ParseShutdownTimeout("later", logger))
}

func TestConfig_Print(t *testing.T) {
	config := &Config{Debug: true, ConfigPath: "./config.yaml", ListenAddress: ":8080", ShutdownTimeout: "30s"}
	// This should not panic
	config.Print(zaptest.NewLogger(t).Sugar())
}
