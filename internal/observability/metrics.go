package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for data provider operations.
// All methods are safe to call on a nil receiver.
type QueryMetrics struct {
	operationDuration metric.Float64Histogram
	operationErrors   metric.Int64Counter
	resultRows        metric.Int64Histogram
	batchParentCount  metric.Int64Histogram
	batchQueriesSaved metric.Int64Counter
	relationDegraded  metric.Int64Counter
	morphTypes        metric.Int64Histogram
	writeChunks       metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
}

// InitQueryMetrics creates the instruments on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter(ScopeName)
	m := &QueryMetrics{}
	var err error

	if m.operationDuration, err = meter.Float64Histogram(
		"dataprovider.operation.duration",
		metric.WithDescription("Duration of data provider operations in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}
	if m.operationErrors, err = meter.Int64Counter(
		"dataprovider.operation.errors",
		metric.WithDescription("Number of failed data provider operations by error kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create operation error counter: %w", err)
	}
	if m.resultRows, err = meter.Int64Histogram(
		"dataprovider.operation.rows",
		metric.WithDescription("Number of records returned by data provider operations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}
	if m.batchParentCount, err = meter.Int64Histogram(
		"dataprovider.relation.parent_count",
		metric.WithDescription("Number of distinct parent keys included in a relationship batch query"),
	); err != nil {
		return nil, fmt.Errorf("failed to create batch parent count histogram: %w", err)
	}
	if m.batchQueriesSaved, err = meter.Int64Counter(
		"dataprovider.relation.queries_saved",
		metric.WithDescription("Number of per-record queries avoided by batching"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queries saved counter: %w", err)
	}
	if m.relationDegraded, err = meter.Int64Counter(
		"dataprovider.relation.degraded",
		metric.WithDescription("Number of relationships that fell back to an empty value"),
	); err != nil {
		return nil, fmt.Errorf("failed to create relation degraded counter: %w", err)
	}
	if m.morphTypes, err = meter.Int64Histogram(
		"dataprovider.morph.types",
		metric.WithDescription("Number of distinct discriminator values per morph resolution"),
	); err != nil {
		return nil, fmt.Errorf("failed to create morph types histogram: %w", err)
	}
	if m.writeChunks, err = meter.Int64Counter(
		"dataprovider.write.chunks",
		metric.WithDescription("Number of chunk statements executed by batched writes"),
	); err != nil {
		return nil, fmt.Errorf("failed to create write chunks counter: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter(
		"dataprovider.relation.cache_hits",
		metric.WithDescription("Number of relationship cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter(
		"dataprovider.relation.cache_misses",
		metric.WithDescription("Number of relationship cache misses"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}
	return m, nil
}

// InitMetrics initializes all custom metrics and logs the outcome.
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}
	logger.Info("custom query metrics initialized")
	return metrics, nil
}

// RecordOperation records the duration and outcome of one provider operation.
// errorKind is empty on success.
func (m *QueryMetrics) RecordOperation(ctx context.Context, operation, table string, duration time.Duration, rows int, errorKind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.Bool("has_errors", errorKind != ""),
	)
	m.operationDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	if errorKind != "" {
		m.operationErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", errorKind),
		))
		return
	}
	m.resultRows.Record(ctx, int64(rows), attrs)
}

// RecordBatch records one batched relationship fetch covering parents
// distinct keys in queries round trips.
func (m *QueryMetrics) RecordBatch(ctx context.Context, relationType string, parents, queries int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("relation_type", relationType))
	m.batchParentCount.Record(ctx, int64(parents), attrs)
	if saved := int64(parents - queries); saved > 0 {
		m.batchQueriesSaved.Add(ctx, saved, attrs)
	}
}

func (m *QueryMetrics) RecordRelationDegraded(ctx context.Context, relationType, reason string) {
	if m == nil {
		return
	}
	m.relationDegraded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relation_type", relationType),
		attribute.String("reason", reason),
	))
}

func (m *QueryMetrics) RecordMorphTypes(ctx context.Context, relation string, types int) {
	if m == nil {
		return
	}
	m.morphTypes.Record(ctx, int64(types), metric.WithAttributes(
		attribute.String("relation", relation),
	))
}

func (m *QueryMetrics) RecordWriteChunk(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.writeChunks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

func (m *QueryMetrics) RecordCacheHit(ctx context.Context, relationType string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relation_type", relationType),
	))
}

func (m *QueryMetrics) RecordCacheMiss(ctx context.Context, relationType string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relation_type", relationType),
	))
}
