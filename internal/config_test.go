package internal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigDefaults tests that the default values are applied correctly when loading a config.
func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write app config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.AppConfig.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.AppConfig.Server.Port)
	}
	if cfg.AppConfig.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected default max body bytes, got %d", cfg.AppConfig.Server.MaxBodyBytes)
	}
	if cfg.AppConfig.Stripe.WebhookPath != "/webhooks/stripe" {
		t.Fatalf("expected default webhook path, got %q", cfg.AppConfig.Stripe.WebhookPath)
	}
	if cfg.AppConfig.Stripe.ToleranceSeconds != 300 {
		t.Fatalf("expected default tolerance 300, got %d", cfg.AppConfig.Stripe.ToleranceSeconds)
	}
	if cfg.AppConfig.Storage.PaymentsTable != "stripehooks_payments" {
		t.Fatalf("expected default payments table, got %q", cfg.AppConfig.Storage.PaymentsTable)
	}
	if cfg.AppConfig.Storage.SubscriptionsTable != "stripehooks_subscriptions" {
		t.Fatalf("expected default subscriptions table, got %q", cfg.AppConfig.Storage.SubscriptionsTable)
	}
	if cfg.AppConfig.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.AppConfig.Watermill.Driver)
	}
	if len(cfg.AppConfig.Watermill.Drivers) != 0 {
		t.Fatalf("expected no default drivers, got %v", cfg.AppConfig.Watermill.Drivers)
	}
	if cfg.AppConfig.Watermill.GoChannel.OutputChannelBuffer != 64 {
		t.Fatalf("expected default gochannel output buffer, got %d", cfg.AppConfig.Watermill.GoChannel.OutputChannelBuffer)
	}
	if cfg.AppConfig.Watermill.HTTP.Mode != "topic_url" {
		t.Fatalf("expected default http mode topic_url, got %q", cfg.AppConfig.Watermill.HTTP.Mode)
	}
	if cfg.AppConfig.Watermill.RiverQueue.Kind != "stripehooks.event" {
		t.Fatalf("expected default river kind, got %q", cfg.AppConfig.Watermill.RiverQueue.Kind)
	}
	if cfg.AppConfig.Watermill.RiverQueue.Queue != "default" {
		t.Fatalf("expected default river queue, got %q", cfg.AppConfig.Watermill.RiverQueue.Queue)
	}
}

// TestLoadConfigExpandsEnv tests that environment variables are expanded when loading a config.
func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRET", "whsec_from_env")

	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	content := "stripe:\n  webhook_secret: ${TEST_WEBHOOK_SECRET}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write app config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.AppConfig.Stripe.WebhookSecret != "whsec_from_env" {
		t.Fatalf("expected webhook secret from env, got %q", cfg.AppConfig.Stripe.WebhookSecret)
	}
}

// TestLoadConfigInvalidRule tests that loading a config with an invalid rule returns an error.
func TestLoadConfigInvalidRule(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - when: name == \"invoice.payment_failed\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

// TestLoadConfigTrimsFields tests that the fields in a rule are trimmed correctly.
func TestLoadConfigTrimsFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "rules:\n  - when: \"  name == \\\"invoice.payment_failed\\\"  \"\n    emit: \"  billing.payment.failed  \"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if cfg.Rules[0].When != "name == \"invoice.payment_failed\"" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if cfg.Rules[0].Emit != "billing.payment.failed" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
}
