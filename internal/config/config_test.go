package config

import (
	"os"
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()

	t.Setenv(KeyAccessToken, "channel-access-token")
	t.Setenv(KeyChannelSecret, "channel-secret")
	t.Setenv(KeyOTPSecret, "JBSWY3DPEHPK3PXP")
}

func TestLoadDefaultsAndRequired(t *testing.T) {
	unsetEnv(t, KeyAppEnv)
	unsetEnv(t, KeyHTTPPort)
	unsetEnv(t, KeyLogLevel)
	unsetEnv(t, KeyAccessFile)
	unsetEnv(t, KeyPersistBackend)

	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got error: %v", err)
	}

	if cfg.AppEnv != DefaultAppEnv {
		t.Fatalf("expected app env %s, got %s", DefaultAppEnv, cfg.AppEnv)
	}

	if cfg.HTTPPort != DefaultHTTPPort {
		t.Fatalf("expected default http port %d, got %d", DefaultHTTPPort, cfg.HTTPPort)
	}

	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level %s, got %s", DefaultLogLevel, cfg.LogLevel)
	}

	if cfg.AccessFile != DefaultAccessFile {
		t.Fatalf("expected default access file %s, got %s", DefaultAccessFile, cfg.AccessFile)
	}

	if cfg.PersistBackend != BackendFile {
		t.Fatalf("expected default backend %s, got %s", BackendFile, cfg.PersistBackend)
	}

	if cfg.UsesMongo() {
		t.Fatalf("expected UsesMongo to be false for the file backend")
	}
}

func TestLoadFailsOnMissingRequired(t *testing.T) {
	unsetEnv(t, KeyAppEnv)

	unsetEnv(t, KeyAccessToken)
	t.Setenv(KeyChannelSecret, "channel-secret")
	t.Setenv(KeyOTPSecret, "JBSWY3DPEHPK3PXP")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected missing required env to error")
	}

	if !strings.Contains(err.Error(), KeyAccessToken) {
		t.Fatalf("expected error to mention missing %s, got %v", KeyAccessToken, err)
	}
}

func TestLoadRequiresMongoSettingsForMongoBackend(t *testing.T) {
	unsetEnv(t, KeyAppEnv)
	unsetEnv(t, KeyMongoURI)
	unsetEnv(t, KeyMongoDB)

	setRequired(t)
	t.Setenv(KeyPersistBackend, BackendMongo)

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for mongo backend without mongo settings")
	}

	if !strings.Contains(err.Error(), KeyMongoURI) || !strings.Contains(err.Error(), KeyMongoDB) {
		t.Fatalf("expected error to mention %s and %s, got %v", KeyMongoURI, KeyMongoDB, err)
	}

	t.Setenv(KeyMongoURI, "mongodb://localhost:27017")
	t.Setenv(KeyMongoDB, "line_otp_bot_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load with mongo settings, got %v", err)
	}

	if !cfg.UsesMongo() {
		t.Fatalf("expected UsesMongo to be true")
	}
}

func TestLoadRejectsUnknownPersistBackend(t *testing.T) {
	unsetEnv(t, KeyAppEnv)

	setRequired(t)
	t.Setenv(KeyPersistBackend, "etcd")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}

	if !strings.Contains(err.Error(), KeyPersistBackend) {
		t.Fatalf("expected error to mention %s, got %v", KeyPersistBackend, err)
	}
}

func TestLoadValidatesHTTPPort(t *testing.T) {
	unsetEnv(t, KeyAppEnv)

	setRequired(t)
	t.Setenv(KeyHTTPPort, "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unparseable %s", KeyHTTPPort)
	}

	t.Setenv(KeyHTTPPort, "0")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-positive %s", KeyHTTPPort)
	}

	t.Setenv(KeyHTTPPort, "8443")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.HTTPPort != 8443 {
		t.Fatalf("expected port 8443, got %d", cfg.HTTPPort)
	}
}

func TestLoadValidatesAppEnv(t *testing.T) {
	setRequired(t)
	t.Setenv(KeyAppEnv, "staging")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid %s", KeyAppEnv)
	}
}

func TestFormatRedactedMasksSecrets(t *testing.T) {
	cfg := Config{
		AccessToken:    "token",
		ChannelSecret:  "secret",
		OTPSecret:      "JBSWY3DPEHPK3PXP",
		AccessFile:     "config.json",
		PersistBackend: BackendFile,
		AppEnv:         EnvProduction,
		LogLevel:       "info",
		HTTPPort:       3000,
	}

	out := FormatRedacted(cfg)

	for _, secret := range []string{"token", "secret", "JBSWY3DPEHPK3PXP"} {
		if strings.Contains(out, secret) {
			t.Fatalf("expected %q to be redacted, got:\n%s", secret, out)
		}
	}

	if !strings.Contains(out, KeyAccessFile+"=config.json") {
		t.Fatalf("expected non-secret values to be printed, got:\n%s", out)
	}
}

func TestContractCoversEveryKey(t *testing.T) {
	keys := map[string]bool{}
	for _, spec := range Contract {
		keys[spec.Key] = true
	}

	for _, key := range []string{
		KeyAccessToken, KeyChannelSecret, KeyOTPSecret, KeyAccessFile,
		KeyPersistBackend, KeyMongoURI, KeyMongoDB, KeyAppEnv, KeyLogLevel, KeyHTTPPort,
	} {
		if !keys[key] {
			t.Fatalf("expected contract entry for %s", key)
		}
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()

	// t.Setenv registers the restore; clearing afterwards leaves the key unset
	// for the test body only.
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset %s: %v", key, err)
	}
}
