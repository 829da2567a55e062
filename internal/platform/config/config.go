package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultCurrency             = "jpy"
	defaultBundleSize           = 3
	defaultBundleSetPrice       = 1299
	defaultBundleUnitPrice      = 450
	defaultShippingFee          = 500
	defaultOrderCodeLength      = 4
	defaultOrderCodeAttempts    = 5
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitWebhook     = 60
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Stripe      StripeConfig
	PubSub      PubSubConfig
	Pricing     PricingConfig
	OrderCodes  OrderCodeConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
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

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	InvoiceBucket string
}

// StripeConfig collects gateway credentials and checkout redirect targets.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// PubSubConfig names the topic order and inventory events are published on.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// PricingConfig holds the storefront's commercial constants.
type PricingConfig struct {
	BundleSize         int
	BundleSetPrice     int64
	BundleUnitPrice    int64
	BundleCategories   []string
	ShippingFee        int64
	FreeShippingRegion string
}

// OrderCodeConfig controls public order code allocation.
type OrderCodeConfig struct {
	Length      int
	MaxAttempts int
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	WebhookBurst           int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists the configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

func (c Config) validate() error {
	var bad []string
	flag := func(condition bool, field string) {
		if condition {
			bad = append(bad, field)
		}
	}

	flag(c.Server.Port == "", "Server.Port")
	flag(c.Firestore.ProjectID == "", "Firestore.ProjectID")
	flag(c.Pricing.BundleSize <= 0, "Pricing.BundleSize")
	flag(c.Pricing.BundleSetPrice < 0 || c.Pricing.BundleUnitPrice < 0, "Pricing.BundlePrices")
	flag(c.Pricing.ShippingFee < 0, "Pricing.ShippingFee")
	flag(c.OrderCodes.Length <= 0, "OrderCodes.Length")
	flag(c.OrderCodes.MaxAttempts <= 0, "OrderCodes.MaxAttempts")
	flag(strings.TrimSpace(c.Idempotency.Header) == "", "Idempotency.Header")
	flag(c.Idempotency.TTL <= 0, "Idempotency.TTL")
	flag(c.Idempotency.CleanupInterval <= 0, "Idempotency.CleanupInterval")
	flag(c.Idempotency.CleanupBatchSize <= 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}
