package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "lula-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if len(cfg.Inventory.Locations) != 2 || cfg.Inventory.Locations[0] != "shop" {
		t.Errorf("unexpected default locations: %v", cfg.Inventory.Locations)
	}
	if cfg.Inventory.LowStockThreshold != defaultLowStockThreshold {
		t.Errorf("unexpected low stock threshold: %d", cfg.Inventory.LowStockThreshold)
	}
	if cfg.Cancellation.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %s", cfg.Cancellation.Timezone)
	}
	if cfg.Cancellation.RestockLocation != "shop" {
		t.Errorf("expected restock location to default to first location, got %s", cfg.Cancellation.RestockLocation)
	}
	if cfg.PubSub.ProjectID != "lula-dev" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != defaultOrderEventsTopic {
		t.Errorf("unexpected order events topic: %s", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.Notifications.DefaultLanguage != "en" {
		t.Errorf("unexpected default language: %s", cfg.Notifications.DefaultLanguage)
	}
	if cfg.Notifications.SendTimeout != defaultNotifyTimeout {
		t.Errorf("unexpected notify timeout: %s", cfg.Notifications.SendTimeout)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_READ_TIMEOUT":             "20s",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_FIRESTORE_PROJECT_ID":            "lula-prod",
		"API_PUBSUB_ENABLED":                  "true",
		"API_PUBSUB_PROJECT_ID":               "lula-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":       "orders-prod",
		"API_INVENTORY_LOCATIONS":             "shop, warehouse, atelier",
		"API_INVENTORY_LOW_STOCK_THRESHOLD":   "3",
		"API_CANCELLATION_TIMEZONE":           "Africa/Casablanca",
		"API_CANCELLATION_RESTOCK_LOCATION":   "warehouse",
		"API_NOTIFY_DEFAULT_LANGUAGE":         "fr",
		"API_NOTIFY_SEND_TIMEOUT":             "5s",
		"API_NOTIFY_WHATSAPP_PHONE_NUMBER_ID": "1234567890",
		"API_NOTIFY_WHATSAPP_ACCESS_TOKEN":    "secret://whatsapp/token",
		"API_NOTIFY_SMTP_HOST":                "smtp.example.com",
		"API_NOTIFY_SMTP_PASSWORD":            "secret://smtp/password",
		"API_NOTIFY_SMTP_FROM":                "orders@example.com",
		"API_IDEMPOTENCY_HEADER":              "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                 "48h",
	}

	secrets := map[string]string{
		"secret://whatsapp/token": "wa-token",
		"secret://smtp/password":  "smtp-pass",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if !cfg.PubSub.Enabled || cfg.PubSub.ProjectID != "lula-events" {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.PubSub.OrderEventsTopic != "orders-prod" {
		t.Errorf("unexpected order events topic %s", cfg.PubSub.OrderEventsTopic)
	}
	if len(cfg.Inventory.Locations) != 3 || cfg.Inventory.Locations[2] != "atelier" {
		t.Errorf("unexpected locations %v", cfg.Inventory.Locations)
	}
	if cfg.Inventory.LowStockThreshold != 3 {
		t.Errorf("unexpected threshold %d", cfg.Inventory.LowStockThreshold)
	}
	if cfg.Cancellation.Timezone != "Africa/Casablanca" {
		t.Errorf("unexpected timezone %s", cfg.Cancellation.Timezone)
	}
	if cfg.Cancellation.RestockLocation != "warehouse" {
		t.Errorf("unexpected restock location %s", cfg.Cancellation.RestockLocation)
	}
	if cfg.Notifications.DefaultLanguage != "fr" {
		t.Errorf("unexpected default language %s", cfg.Notifications.DefaultLanguage)
	}
	if cfg.Notifications.SendTimeout != 5*time.Second {
		t.Errorf("unexpected send timeout %s", cfg.Notifications.SendTimeout)
	}
	if cfg.Notifications.WhatsApp.AccessToken != "wa-token" {
		t.Errorf("expected resolved whatsapp token, got %s", cfg.Notifications.WhatsApp.AccessToken)
	}
	if cfg.Notifications.Email.Password != "smtp-pass" {
		t.Errorf("expected resolved smtp password, got %s", cfg.Notifications.Email.Password)
	}
	if cfg.Notifications.Email.Port != defaultSMTPPort {
		t.Errorf("unexpected smtp port %d", cfg.Notifications.Email.Port)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" {
		t.Errorf("unexpected idempotency header %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nAPI_FIRESTORE_PROJECT_ID=lula-dot\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "lula-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadRejectsRestockLocationOutsideConfiguredSet(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":          "lula-dev",
		"API_CANCELLATION_RESTOCK_LOCATION": "basement",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 1 || fields[0] != "Cancellation.RestockLocation" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":         "lula-dev",
		"API_NOTIFY_WHATSAPP_ACCESS_TOKEN": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "lula-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Notifications.WhatsApp.AccessToken"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Notifications.WhatsApp.AccessToken")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "lula-dev",
		"API_NOTIFY_SMTP_PASSWORD": "sm://smtp/password",
	}

	secrets := map[string]string{
		"secret://smtp/password": "legacy-secret",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.Email.Password != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Notifications.Email.Password)
	}
}
