package cache

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// metricsCollection holds the cache's otel counters. The global meter
// provider is a no-op unless the embedding application installs one, so
// instrumentation costs nothing by default. Keys are deliberately not
// recorded as attributes: unbounded cardinality.
type metricsCollection struct {
	hitCount      metric.Int64Counter
	missCount     metric.Int64Counter
	fetchCount    metric.Int64Counter
	evictionCount metric.Int64Counter
}

func newMetrics() (*metricsCollection, error) {
	meter := otel.Meter("github.com/four43/crisp-cache")

	hitCount, err := meter.Int64Counter(
		"cache/hit_count",
		metric.WithDescription("Number of gets served from cache (valid or stale)"),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: create hit count metric: %w", err)
	}

	missCount, err := meter.Int64Counter(
		"cache/miss_count",
		metric.WithDescription("Number of gets that found nothing servable"),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: create miss count metric: %w", err)
	}

	fetchCount, err := meter.Int64Counter(
		"cache/fetch_count",
		metric.WithDescription("Number of fetcher invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: create fetch count metric: %w", err)
	}

	evictionCount, err := meter.Int64Counter(
		"cache/eviction_count",
		metric.WithDescription("Number of entries ejected by the capacity bound"),
	)
	if err != nil {
		return nil, fmt.Errorf("cache: create eviction count metric: %w", err)
	}

	return &metricsCollection{
		hitCount:      hitCount,
		missCount:     missCount,
		fetchCount:    fetchCount,
		evictionCount: evictionCount,
	}, nil
}
