package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultLoyaltyAward = 1000
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Auth      AuthConfig
	PubSub    PubSubConfig
	Loyalty   LoyaltyConfig
	Webhooks  WebhookConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// AuthConfig holds the bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// PubSubConfig names the topics used for domain event publication. Empty
// topic names disable publication.
type PubSubConfig struct {
	ProjectID  string
	StockTopic string
	OrderTopic string
}

// LoyaltyConfig controls the points awarded when an order completes.
type LoyaltyConfig struct {
	CompletionAward int
}

// WebhookConfig contains the shared secret expected on gateway callbacks.
type WebhookConfig struct {
	SigningSecret string
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Fields(), ", "))
}

// Fields lists the invalid field names in stable order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, 0, len(e.FieldErrors))
	for field := range e.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Option customises configuration loading.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile     string
	extraValues map[string]string
	skipSysEnv  bool
}

// WithEnvFile overrides the .env file consulted during loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap merges the provided values over anything read from files or the process env.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.extraValues = values
	}
}

// WithoutSystemEnv ignores the process environment; useful in tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.skipSysEnv = true
	}
}

// Load assembles the Config from the environment, an optional .env file, and
// explicit overrides, then validates it.
func Load(opts ...Option) (Config, error) {
	values, err := environmentValues(opts...)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         valueOr(values, "PORT", defaultPort),
			ReadTimeout:  durationOr(values, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationOr(values, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationOr(values, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    values["FIRESTORE_PROJECT_ID"],
			EmulatorHost: values["FIRESTORE_EMULATOR_HOST"],
		},
		Auth: AuthConfig{
			JWTSecret: values["AUTH_JWT_SECRET"],
			Issuer:    values["AUTH_ISSUER"],
		},
		PubSub: PubSubConfig{
			ProjectID:  valueOr(values, "PUBSUB_PROJECT_ID", values["FIRESTORE_PROJECT_ID"]),
			StockTopic: values["PUBSUB_STOCK_TOPIC"],
			OrderTopic: values["PUBSUB_ORDER_TOPIC"],
		},
		Loyalty: LoyaltyConfig{
			CompletionAward: intOr(values, "LOYALTY_COMPLETION_AWARD", defaultLoyaltyAward),
		},
		Webhooks: WebhookConfig{
			SigningSecret: values["WEBHOOK_SIGNING_SECRET"],
		},
	}

	fieldErrors := map[string]string{}
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" {
		fieldErrors["FIRESTORE_PROJECT_ID"] = "required"
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		fieldErrors["AUTH_JWT_SECRET"] = "required"
	}
	if cfg.Loyalty.CompletionAward < 0 {
		fieldErrors["LOYALTY_COMPLETION_AWARD"] = "must be >= 0"
	}
	if len(fieldErrors) > 0 {
		return Config{}, &ValidationError{FieldErrors: fieldErrors}
	}
	return cfg, nil
}

func environmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	values := map[string]string{}

	if options.envFile != "" {
		fileValues, err := readEnvFile(options.envFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	if !options.skipSysEnv {
		for _, entry := range os.Environ() {
			key, value, found := strings.Cut(entry, "=")
			if !found {
				continue
			}
			values[key] = value
		}
	}

	for k, v := range options.extraValues {
		values[k] = v
	}

	return values, nil
}

func readEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func valueOr(values map[string]string, key, fallback string) string {
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return fallback
}

func durationOr(values map[string]string, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(values[key])
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func intOr(values map[string]string, key string, fallback int) int {
	raw := strings.TrimSpace(values[key])
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
