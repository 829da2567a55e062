package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func loadFrom(t *testing.T, env map[string]string, extra ...Option) Config {
	t.Helper()
	opts := append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, extra...)
	cfg, err := Load(context.Background(), opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadFrom(t, map[string]string{
		"API_FIRESTORE_PROJECT_ID": "warpweft-dev",
	})

	if cfg.Server.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("readTimeout = %s, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.PubSub.ProjectID != "warpweft-dev" {
		t.Errorf("pubsub project = %s, want the firestore project", cfg.PubSub.ProjectID)
	}
	if cfg.Stripe.Currency != "jpy" {
		t.Errorf("currency = %s, want jpy", cfg.Stripe.Currency)
	}
	if cfg.Pricing.BundleSize != 3 || cfg.Pricing.BundleSetPrice != 1299 || cfg.Pricing.BundleUnitPrice != 450 {
		t.Errorf("bundle defaults = %d/%d/%d, want 3/1299/450",
			cfg.Pricing.BundleSize, cfg.Pricing.BundleSetPrice, cfg.Pricing.BundleUnitPrice)
	}
	if cfg.OrderCodes.Length != 4 || cfg.OrderCodes.MaxAttempts != 5 {
		t.Errorf("order codes = %d/%d, want 4/5", cfg.OrderCodes.Length, cfg.OrderCodes.MaxAttempts)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 {
		t.Errorf("rate limit = %d, want 120", cfg.RateLimits.DefaultPerMinute)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("idempotency header = %s, want Idempotency-Key", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("idempotency ttl = %s, want 24h", cfg.Idempotency.TTL)
	}
}

func TestLoadOverridesAndResolvesSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIRESTORE_PROJECT_ID":         "warpweft-prod",
		"API_STORAGE_INVOICE_BUCKET":       "invoices-prod",
		"API_STRIPE_API_KEY":               "secret://stripe/api",
		"API_STRIPE_WEBHOOK_SECRET":        "secret://stripe/webhook",
		"API_STRIPE_CURRENCY":              "USD",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"API_PRICING_BUNDLE_SIZE":          "4",
		"API_PRICING_BUNDLE_SET_PRICE":     "1599",
		"API_PRICING_BUNDLE_UNIT_PRICE":    "399",
		"API_PRICING_BUNDLE_CATEGORIES":    "tees, socks",
		"API_PRICING_SHIPPING_FEE":         "700",
		"API_PRICING_FREE_SHIPPING_REGION": "Tokyo",
		"API_ORDER_CODE_LENGTH":            "6",
		"API_ORDER_CODE_MAX_ATTEMPTS":      "8",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}
	vault := map[string]string{
		"secret://stripe/api":     "stripe-key",
		"secret://stripe/webhook": "stripe-webhook",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := vault[ref]; ok {
			return v, nil
		}
		return "", errors.New("unknown ref " + ref)
	})

	cfg := loadFrom(t, env, WithSecretResolver(resolver))

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("idleTimeout = %s, want 2m", cfg.Server.IdleTimeout)
	}
	if cfg.Stripe.APIKey != "stripe-key" || cfg.Stripe.WebhookSecret != "stripe-webhook" {
		t.Errorf("stripe secrets = %q/%q, want resolved values", cfg.Stripe.APIKey, cfg.Stripe.WebhookSecret)
	}
	if cfg.Stripe.Currency != "usd" {
		t.Errorf("currency = %s, want lowercased usd", cfg.Stripe.Currency)
	}
	if cfg.Storage.InvoiceBucket != "invoices-prod" {
		t.Errorf("invoice bucket = %s, want invoices-prod", cfg.Storage.InvoiceBucket)
	}
	if cfg.PubSub.OrderEventsTopic != "order-events" {
		t.Errorf("events topic = %s, want order-events", cfg.PubSub.OrderEventsTopic)
	}
	if cfg.Pricing.BundleSize != 4 || cfg.Pricing.BundleSetPrice != 1599 || cfg.Pricing.BundleUnitPrice != 399 {
		t.Errorf("bundle settings = %d/%d/%d, want 4/1599/399",
			cfg.Pricing.BundleSize, cfg.Pricing.BundleSetPrice, cfg.Pricing.BundleUnitPrice)
	}
	if len(cfg.Pricing.BundleCategories) != 2 || cfg.Pricing.BundleCategories[0] != "tees" || cfg.Pricing.BundleCategories[1] != "socks" {
		t.Errorf("bundle categories = %v, want [tees socks]", cfg.Pricing.BundleCategories)
	}
	if cfg.Pricing.ShippingFee != 700 || cfg.Pricing.FreeShippingRegion != "Tokyo" {
		t.Errorf("shipping = %d/%s, want 700/Tokyo", cfg.Pricing.ShippingFee, cfg.Pricing.FreeShippingRegion)
	}
	if cfg.OrderCodes.Length != 6 || cfg.OrderCodes.MaxAttempts != 8 {
		t.Errorf("order codes = %d/%d, want 6/8", cfg.OrderCodes.Length, cfg.OrderCodes.MaxAttempts)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("idempotency = %s/%s/%d, want X-Idem-Key/48h/500",
			cfg.Idempotency.Header, cfg.Idempotency.TTL, cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIRESTORE_PROJECT_ID=\"warpweft-dot\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("port = %s, want 7070 from dotenv", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "warpweft-dot" {
		t.Errorf("project = %s, want unquoted warpweft-dot", cfg.Firestore.ProjectID)
	}
}

func TestLoadRejectsIncompleteConfig(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("Load accepted config without a firestore project")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	found := false
	for _, field := range verr.Fields() {
		if field == "Firestore.ProjectID" {
			found = true
		}
	}
	if !found {
		t.Errorf("Fields() = %v, want Firestore.ProjectID listed", verr.Fields())
	}
}

func TestLoadSurfacesSecretResolutionFailure(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID": "warpweft-dev",
		"API_STRIPE_API_KEY":       "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("Load succeeded with an unresolvable secret reference")
	}
	var serr *SecretError
	if !errors.As(err, &serr) {
		t.Fatalf("error type = %T, want *SecretError", err)
	}
	if serr.Ref != "secret://missing" {
		t.Errorf("ref = %s, want secret://missing", serr.Ref)
	}
}

func TestLoadNormalisesLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIRESTORE_PROJECT_ID":  "warpweft-dev",
		"API_STRIPE_WEBHOOK_SECRET": "sm://stripe/webhook",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://stripe/webhook" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "legacy-secret", nil
	})

	cfg := loadFrom(t, env, WithSecretResolver(resolver))
	if cfg.Stripe.WebhookSecret != "legacy-secret" {
		t.Errorf("webhook secret = %s, want legacy-secret", cfg.Stripe.WebhookSecret)
	}
}

func TestLoadReportsMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"API_FIRESTORE_PROJECT_ID": "warpweft-dev"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Stripe.APIKey", "Stripe.APIKey", " "),
	)
	if err == nil {
		t.Fatal("Load succeeded without the required stripe key")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("error type = %T, want *MissingSecretsError", err)
	}
	want := redactSecretName("Stripe.APIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != want {
		t.Errorf("RedactedNames() = %v, want [%s]", got, want)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIRESTORE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv file: %v", err)
	}

	t.Setenv("API_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}

	for key, want := range map[string]string{
		"API_FIRESTORE_PROJECT_ID": "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://stripe/api=5",
	} {
		if got := values[key]; got != want {
			t.Errorf("values[%s] = %q, want %q", key, got, want)
		}
	}
}
