package secrets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const meterScope = "github.com/warpweft/api/internal/platform/secrets"

// meters bundles the resolve instruments. A failed registration disables
// that instrument rather than failing fetcher construction.
type meters struct {
	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

func newMeters(logger *zap.Logger) meters {
	meter := otel.GetMeterProvider().Meter(meterScope)

	var m meters
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		logger.Warn("secrets: latency metric unavailable", zap.Error(err))
	} else {
		m.latency = latency
	}

	cacheHits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	if err != nil {
		logger.Warn("secrets: cache hit metric unavailable", zap.Error(err))
	} else {
		m.cacheHits = cacheHits
	}
	return m
}

func (m meters) resolved(ctx context.Context, origin string, elapsed time.Duration, err error) {
	if m.latency == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", origin)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	m.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (m meters) cacheHit(ctx context.Context, canonical string) {
	if m.cacheHits == nil {
		return
	}
	digest := sha256.Sum256([]byte(canonical))
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}
