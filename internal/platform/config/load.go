package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	overrides       map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides. An
// empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map. Its values win over both the
// system environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.overrides = values }
}

// WithoutSystemEnv ignores os.Environ, reading only the supplied map and
// .env file.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields whose resolved value must be
// non-empty, named by field path such as "Stripe.APIKey".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// envSource answers key lookups with the precedence explicit map, then
// system environment, then .env file.
type envSource struct {
	overrides map[string]string
	system    bool
	dotenv    map[string]string
}

func newEnvSource(o loaderOptions) (envSource, error) {
	dotenv, err := parseEnvFile(o.envFile)
	if err != nil {
		return envSource{}, err
	}
	return envSource{overrides: o.overrides, system: o.useSystemEnv, dotenv: dotenv}, nil
}

func (s envSource) value(key string) string {
	if v, ok := s.overrides[key]; ok {
		return v
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
	}
	return s.dotenv[key]
}

func (s envSource) str(key, fallback string) string {
	if v := s.value(key); v != "" {
		return v
	}
	return fallback
}

func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if v := s.value(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func (s envSource) count(key string, fallback int) int {
	if v := s.value(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s envSource) amount(key string, fallback int64) int64 {
	if v := s.value(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (s envSource) list(key string) []string {
	raw := s.value(key)
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// EnvironmentValues returns the merged key/value environment using the same
// precedence as Load, so callers can bootstrap dependencies before loading.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newEnvSource(options)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range src.dotenv {
		values[key] = value
	}
	if src.system {
		for _, entry := range os.Environ() {
			if key, value, found := strings.Cut(entry, "="); found && key != "" {
				values[key] = value
			}
		}
	}
	for key, value := range src.overrides {
		values[key] = value
	}
	return values, nil
}

// Load assembles the runtime configuration from defaults, the .env file, the
// environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			InvoiceBucket: src.str("API_STORAGE_INVOICE_BUCKET", ""),
		},
		Stripe: StripeConfig{
			APIKey:        src.str("API_STRIPE_API_KEY", ""),
			WebhookSecret: src.str("API_STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(src.str("API_STRIPE_CURRENCY", defaultCurrency)),
			SuccessURL:    src.str("API_STRIPE_SUCCESS_URL", ""),
			CancelURL:     src.str("API_STRIPE_CANCEL_URL", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Pricing: PricingConfig{
			BundleSize:         src.count("API_PRICING_BUNDLE_SIZE", defaultBundleSize),
			BundleSetPrice:     src.amount("API_PRICING_BUNDLE_SET_PRICE", defaultBundleSetPrice),
			BundleUnitPrice:    src.amount("API_PRICING_BUNDLE_UNIT_PRICE", defaultBundleUnitPrice),
			BundleCategories:   src.list("API_PRICING_BUNDLE_CATEGORIES"),
			ShippingFee:        src.amount("API_PRICING_SHIPPING_FEE", defaultShippingFee),
			FreeShippingRegion: src.str("API_PRICING_FREE_SHIPPING_REGION", ""),
		},
		OrderCodes: OrderCodeConfig{
			Length:      src.count("API_ORDER_CODE_LENGTH", defaultOrderCodeLength),
			MaxAttempts: src.count("API_ORDER_CODE_MAX_ATTEMPTS", defaultOrderCodeAttempts),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       src.count("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: src.count("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			WebhookBurst:           src.count("API_RATELIMIT_WEBHOOK_BURST", defaultRateLimitWebhook),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.count("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// PubSub publishes into the same project as Firestore unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := checkRequiredSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func parseEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
