package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the filedrop server.
type Config struct {
	Port     int
	LogLevel string
	LogFile  string // optional, appended to in addition to stderr

	// Shared directory
	DataDir      string
	PollInterval time.Duration
	WatchMode    string // "poll" or "fsnotify"

	// HTTP
	StaticDir    string        // optional index.html + assets
	SSEHeartbeat time.Duration // comment line keeping idle streams alive
	MetricsAddr  string        // serve /metrics on a separate listener when set

	// Event journal: SQLite file or PostgreSQL, PostgreSQL wins if both are set
	JournalPath string
	DatabaseURL string

	// Event fan-out
	NATSURL      string
	NATSSubject  string
	RedisURL     string
	RedisChannel string

	// S3-compatible mirror of the shared directory
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	// Overlays
	ConfigFile string
	SecretsARN string
}

// Load reads configuration from environment variables with sensible defaults.
// A YAML file named by FILEDROP_CONFIG_FILE and a JSON secret named by
// FILEDROP_SECRETS_ARN are applied first; explicit environment variables
// always take precedence over both.
func Load() (*Config, error) {
	if arn := os.Getenv("FILEDROP_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}
	if path := os.Getenv("FILEDROP_CONFIG_FILE"); path != "" {
		if err := loadConfigFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: envOrDefault("FILEDROP_LOG_LEVEL", "info"),
		LogFile:  os.Getenv("FILEDROP_LOG_FILE"),

		DataDir:   envOrDefault("FILEDROP_DATA_DIR", envOrDefault("DATA_FOLDER", "/data")),
		WatchMode: envOrDefault("FILEDROP_WATCH_MODE", "poll"),

		StaticDir:   os.Getenv("FILEDROP_STATIC_DIR"),
		MetricsAddr: os.Getenv("FILEDROP_METRICS_ADDR"),

		JournalPath: os.Getenv("FILEDROP_JOURNAL_PATH"),
		DatabaseURL: envOrDefault("FILEDROP_DATABASE_URL", os.Getenv("DATABASE_URL")),

		NATSURL:      os.Getenv("FILEDROP_NATS_URL"),
		NATSSubject:  envOrDefault("FILEDROP_NATS_SUBJECT", "filedrop.events"),
		RedisURL:     os.Getenv("FILEDROP_REDIS_URL"),
		RedisChannel: envOrDefault("FILEDROP_REDIS_CHANNEL", "filedrop:events"),

		S3Endpoint:        os.Getenv("FILEDROP_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("FILEDROP_S3_BUCKET"),
		S3Region:          envOrDefault("FILEDROP_S3_REGION", "us-east-1"),
		S3Prefix:          os.Getenv("FILEDROP_S3_PREFIX"),
		S3AccessKeyID:     os.Getenv("FILEDROP_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("FILEDROP_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("FILEDROP_S3_FORCE_PATH_STYLE") == "true",

		ConfigFile: os.Getenv("FILEDROP_CONFIG_FILE"),
		SecretsARN: os.Getenv("FILEDROP_SECRETS_ARN"),
	}

	if portStr := os.Getenv("FILEDROP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid FILEDROP_PORT %q: %w", portStr, err)
		}
		cfg.Port = port
	}

	var err error
	if cfg.PollInterval, err = envDuration("FILEDROP_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SSEHeartbeat, err = envDuration("FILEDROP_SSE_HEARTBEAT", 15*time.Second); err != nil {
		return nil, err
	}

	switch cfg.WatchMode {
	case "poll", "fsnotify":
	default:
		return nil, fmt.Errorf("invalid FILEDROP_WATCH_MODE %q: want poll or fsnotify", cfg.WatchMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envDuration accepts Go duration strings ("500ms", "2s") or whole seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		v = strconv.Itoa(n) + "s"
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, v)
	}
	return d, nil
}

// setUnset copies values into the process environment without overriding
// variables that are already set.
func setUnset(values map[string]string) int {
	applied := 0
	for key, value := range values {
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			applied++
		}
	}
	return applied
}

// loadConfigFile reads a flat YAML mapping of environment variable names to
// values, e.g.
//
//	FILEDROP_DATA_DIR: /srv/share
//	FILEDROP_POLL_INTERVAL: 5s
func loadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		values[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	setUnset(values)
	return nil
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	setUnset(secrets)
	return nil
}
