package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"FIRESTORE_PROJECT_ID": "phonemart-dev",
		"AUTH_JWT_SECRET":      "test-secret",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.IdleTimeout != 120*time.Second {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.PubSub.ProjectID != "phonemart-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.StockTopic != "" || cfg.PubSub.OrderTopic != "" {
		t.Errorf("expected publication disabled by default, got %+v", cfg.PubSub)
	}
	if cfg.Loyalty.CompletionAward != 1000 {
		t.Errorf("unexpected default loyalty award: %d", cfg.Loyalty.CompletionAward)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"FIRESTORE_PROJECT_ID":     "phonemart-dev",
		"AUTH_JWT_SECRET":          "test-secret",
		"PORT":                     "9090",
		"SERVER_READ_TIMEOUT":      "5s",
		"PUBSUB_PROJECT_ID":        "phonemart-events",
		"PUBSUB_STOCK_TOPIC":       "stock-events",
		"PUBSUB_ORDER_TOPIC":       "order-events",
		"LOYALTY_COMPLETION_AWARD": "500",
		"WEBHOOK_SIGNING_SECRET":   "hook-secret",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "phonemart-events" {
		t.Errorf("unexpected pubsub project: %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.StockTopic != "stock-events" || cfg.PubSub.OrderTopic != "order-events" {
		t.Errorf("unexpected topics: %+v", cfg.PubSub)
	}
	if cfg.Loyalty.CompletionAward != 500 {
		t.Errorf("unexpected loyalty award: %d", cfg.Loyalty.CompletionAward)
	}
	if cfg.Webhooks.SigningSecret != "hook-secret" {
		t.Errorf("unexpected webhook secret: %s", cfg.Webhooks.SigningSecret)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	_, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "AUTH_JWT_SECRET" || fields[1] != "FIRESTORE_PROJECT_ID" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local settings\nFIRESTORE_PROJECT_ID=phonemart-local\nAUTH_JWT_SECRET=\"file-secret\"\nPORT=3000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Firestore.ProjectID != "phonemart-local" {
		t.Errorf("unexpected firestore project: %s", cfg.Firestore.ProjectID)
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Errorf("expected quotes stripped, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != "3000" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	env := map[string]string{
		"FIRESTORE_PROJECT_ID": "phonemart-dev",
		"AUTH_JWT_SECRET":      "test-secret",
		"SERVER_READ_TIMEOUT":  "not-a-duration",
		"SERVER_WRITE_TIMEOUT": "-3s",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("expected fallback read timeout, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected fallback write timeout, got %s", cfg.Server.WriteTimeout)
	}
}
