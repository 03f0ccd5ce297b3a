package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.DBPath != DefaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, DefaultDBPath)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text (dev default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug (dev default)", cfg.LogLevel)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Errorf("AuthMode = %q, want none", cfg.AuthMode)
	}
	if cfg.DefaultMaxPlayers != DefaultMaxPlayers {
		t.Errorf("DefaultMaxPlayers = %d, want %d", cfg.DefaultMaxPlayers, DefaultMaxPlayers)
	}
	if cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Errorf("MaxMessagesPerSecond = %d, want %d", cfg.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	}
	if err := cfg.ICEConfigError(); err != nil {
		t.Errorf("ICEConfigError = %v, want nil", err)
	}
	if cfg.TURNRestTTL != DefaultTURNRestTTL {
		t.Errorf("TURNRestTTL = %v, want %v", cfg.TURNRestTTL, DefaultTURNRestTTL)
	}
}

func TestLoadProdDefaultsToJSONLogs(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{envVarMode: "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json (prod default)", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info (prod default)", cfg.LogLevel)
	}
}

func TestLoadFlagOverridesEnv(t *testing.T) {
	env := map[string]string{
		envVarListenAddr: "127.0.0.1:9999",
	}
	cfg, err := load(lookupFrom(env), []string{"-listen-addr", "0.0.0.0:4000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:4000" {
		t.Errorf("ListenAddr = %q, want flag value", cfg.ListenAddr)
	}
}

func TestLoadJWTModeRequiresSecret(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{envVarAuthMode: "jwt"}), nil)
	if err == nil || !strings.Contains(err.Error(), envVarJWTSecret) {
		t.Fatalf("expected missing JWT_SECRET error, got %v", err)
	}

	cfg, err := load(lookupFrom(map[string]string{
		envVarAuthMode:  "jwt",
		envVarJWTSecret: "sekrit",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT {
		t.Errorf("AuthMode = %q, want jwt", cfg.AuthMode)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad mode":          {envVarMode: "staging"},
		"bad ws timeout":    {envVarWSIdleTimeout: "soon"},
		"zero msg rate":     {envVarMaxMessagesPerSecond: "0"},
		"zero max players":  {envVarDefaultMaxPlayers: "0"},
		"ping >= idle":      {envVarWSPingInterval: "2m", envVarWSIdleTimeout: "1m"},
		"negative msg size": {envVarMaxMessageBytes: "-1"},
		"zero turn ttl":     {envVarTURNRestSecret: "s", envVarTURNRestTTL: "0s"},
	}
	for name, env := range cases {
		if _, err := load(lookupFrom(env), nil); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}

func TestLoadBadICEConfigDoesNotFailStartup(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{envICEServersJSON: "{not json"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatal("expected ICEConfigError to be set")
	}
}

func TestEnvDurationOrDefault(t *testing.T) {
	d, err := envDurationOrDefault(lookupFrom(map[string]string{"K": "90s"}), "K", time.Second)
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = envDurationOrDefault(lookupFrom(nil), "K", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("default: got %v, %v", d, err)
	}
}
