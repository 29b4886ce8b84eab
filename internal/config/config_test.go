package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("expected http port %d, got %d", defaultHTTPPort, cfg.HTTPPort)
	}
	if cfg.FreeTierQuota != 3 {
		t.Errorf("expected free tier quota 3, got %d", cfg.FreeTierQuota)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("expected session ttl 5m, got %s", cfg.SessionTTL)
	}
	if cfg.DefaultLanguage != "en" {
		t.Errorf("expected default language en, got %q", cfg.DefaultLanguage)
	}
}

func TestLoadFlagOverrides(t *testing.T) {
	cfg, err := load([]string{
		"-http-port", "9090",
		"-free-tier-quota", "5",
		"-log-format", "json",
		"-session-ttl", "10m",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("expected http port 9090, got %d", cfg.HTTPPort)
	}
	if cfg.FreeTierQuota != 5 {
		t.Errorf("expected free tier quota 5, got %d", cfg.FreeTierQuota)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected log format json, got %q", cfg.LogFormat)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Errorf("expected session ttl 10m, got %s", cfg.SessionTTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORYLINE_HTTP_PORT", "7070")
	t.Setenv("STORYLINE_DEFAULT_LANGUAGE", "es")

	cfg, err := load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 7070 {
		t.Errorf("expected env-set http port 7070, got %d", cfg.HTTPPort)
	}
	if cfg.DefaultLanguage != "es" {
		t.Errorf("expected env-set default language es, got %q", cfg.DefaultLanguage)
	}
}

func TestLoadFlagBeatsEnv(t *testing.T) {
	t.Setenv("STORYLINE_HTTP_PORT", "7070")

	cfg, err := load([]string{"-http-port", "9090"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("expected flag to beat env, got %d", cfg.HTTPPort)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"-http-port", "0"}},
		{"bad log level", []string{"-log-level", "verbose"}},
		{"bad log format", []string{"-log-format", "xml"}},
		{"negative quota", []string{"-free-tier-quota", "-1"}},
		{"tiny session ttl", []string{"-session-ttl", "5s"}},
		{"inverted age range", []string{"-min-child-age", "10", "-max-child-age", "4"}},
		{"turn timeout too long", []string{"-turn-timeout", "120"}},
		{"ai without credentials", []string{"-ai-stories"}},
	}

	for _, tc := range cases {
		if _, err := load(tc.args); err == nil {
			t.Errorf("%s: expected validation error, got nil", tc.name)
		}
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{JWTSecret: strings.Repeat("ab", 32)}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(key))
	}

	cfg = &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for non-hex secret")
	}

	cfg = &Config{}
	key, err = cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error generating secret: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("expected generated 32-byte key, got %d", len(key))
	}
	if cfg.JWTSecret == "" {
		t.Error("expected generated secret to be stored back on config")
	}
}
