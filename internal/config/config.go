// Package config defines the configuration contract and handles loading and
// validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyAccessToken    = "ACCESS_TOKEN"
	KeyChannelSecret  = "CHANNEL_SECRET"
	KeyOTPSecret      = "OTP_SECRET"
	KeyAccessFile     = "ACCESS_FILE"
	KeyPersistBackend = "PERSIST_BACKEND"
	KeyMongoURI       = "MONGO_URI"
	KeyMongoDB        = "MONGO_DB"
	KeyAppEnv         = "APP_ENV"
	KeyLogLevel       = "LOG_LEVEL"
	KeyHTTPPort       = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Allowed persistence backends.
	BackendFile  = "file"
	BackendMongo = "mongo"

	// Defaults for optional settings.
	DefaultAppEnv         = EnvProduction
	DefaultLogLevel       = "info"
	DefaultHTTPPort       = 3000
	DefaultAccessFile     = "config.json"
	DefaultPersistBackend = BackendFile
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyAccessToken,
		Example:     "eyJhbGciOi...",
		Required:    true,
		Description: "Channel access token for the messaging API (reply, push, profile).",
	},
	{
		Key:         KeyChannelSecret,
		Example:     "0123456789abcdef",
		Required:    true,
		Description: "Channel secret used to verify webhook signatures.",
	},
	{
		Key:         KeyOTPSecret,
		Example:     "JBSWY3DPEHPK3PXP",
		Required:    true,
		Description: "Shared base32 secret for time-based one-time passcodes.",
		Notes:       "Provisioned out-of-band; every party computing codes must hold the same secret.",
	},
	{
		Key:         KeyAccessFile,
		Example:     DefaultAccessFile,
		Default:     DefaultAccessFile,
		Description: "Path to the JSON access-control document (owner, allowed users, allowed groups).",
		Notes:       "Rewritten in full on every allow-list mutation when the file backend is active.",
	},
	{
		Key:         KeyPersistBackend,
		Example:     BackendFile + " / " + BackendMongo,
		Default:     DefaultPersistBackend,
		Description: "Durable store for the access-control state.",
		Notes:       "The mongo backend still reads " + KeyAccessFile + " once to seed an empty database.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Description: "MongoDB connection string.",
		Notes:       "Required when " + KeyPersistBackend + "=" + BackendMongo + ".",
	},
	{
		Key:         KeyMongoDB,
		Example:     "line_otp_bot",
		Description: "MongoDB database name.",
		Notes:       "Required when " + KeyPersistBackend + "=" + BackendMongo + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP port serving the webhook and health endpoints.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	AccessToken    string
	ChannelSecret  string
	OTPSecret      string
	AccessFile     string
	PersistBackend string
	MongoURI       string
	MongoDB        string
	AppEnv         string
	LogLevel       string
	HTTPPort       int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:         firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		AccessToken:    strings.TrimSpace(os.Getenv(KeyAccessToken)),
		ChannelSecret:  strings.TrimSpace(os.Getenv(KeyChannelSecret)),
		OTPSecret:      strings.TrimSpace(os.Getenv(KeyOTPSecret)),
		AccessFile:     firstNonEmpty(strings.TrimSpace(os.Getenv(KeyAccessFile)), DefaultAccessFile),
		PersistBackend: firstNonEmpty(normalizeEnv(os.Getenv(KeyPersistBackend)), DefaultPersistBackend),
		MongoURI:       strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:        strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:       DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	if err := validatePersistBackend(cfg.PersistBackend); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.AccessToken == "" {
		missing = append(missing, KeyAccessToken)
	}

	if cfg.ChannelSecret == "" {
		missing = append(missing, KeyChannelSecret)
	}

	if cfg.OTPSecret == "" {
		missing = append(missing, KeyOTPSecret)
	}

	if cfg.PersistBackend == BackendMongo {
		if cfg.MongoURI == "" {
			missing = append(missing, KeyMongoURI)
		}
		if cfg.MongoDB == "" {
			missing = append(missing, KeyMongoDB)
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// UsesMongo reports if the mongo persistence backend is selected.
func (c Config) UsesMongo() bool {
	return c.PersistBackend == BackendMongo
}

// FormatRedacted renders the resolved configuration with secrets masked, for
// the -config-only diagnostic path.
func FormatRedacted(cfg Config) string {
	lines := []string{
		KeyAppEnv + "=" + cfg.AppEnv,
		KeyAccessToken + "=" + redact(cfg.AccessToken),
		KeyChannelSecret + "=" + redact(cfg.ChannelSecret),
		KeyOTPSecret + "=" + redact(cfg.OTPSecret),
		KeyAccessFile + "=" + cfg.AccessFile,
		KeyPersistBackend + "=" + cfg.PersistBackend,
		KeyMongoURI + "=" + redact(cfg.MongoURI),
		KeyMongoDB + "=" + cfg.MongoDB,
		KeyLogLevel + "=" + cfg.LogLevel,
		KeyHTTPPort + "=" + strconv.Itoa(cfg.HTTPPort),
	}

	return strings.Join(lines, "\n")
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "****"
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validatePersistBackend(backend string) error {
	if backend == BackendFile || backend == BackendMongo {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyPersistBackend, BackendFile, BackendMongo)
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
