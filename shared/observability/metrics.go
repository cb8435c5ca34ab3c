package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the instruments recorded by the chat pipeline.
type Metrics struct {
	chatRequests       metric.Int64Counter
	fragments          metric.Int64Counter
	persistedResponses metric.Int64Counter
	enrichmentFetches  metric.Int64Counter
	providerLatency    metric.Float64Histogram
}

// NewMetrics builds instruments from the global meter provider.
func NewMetrics() *Metrics {
	return NewMetricsFrom(otel.GetMeterProvider())
}

// NewMetricsFrom builds instruments from mp. Instrument creation errors leave
// a no-op instrument in place.
func NewMetricsFrom(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(ServiceName)
	m := &Metrics{}
	m.chatRequests, _ = meter.Int64Counter("daa_chat_requests_total",
		metric.WithDescription("Chat requests by provider"))
	m.fragments, _ = meter.Int64Counter("daa_chat_fragments_total",
		metric.WithDescription("Response fragments streamed to callers"))
	m.persistedResponses, _ = meter.Int64Counter("daa_chat_responses_persisted_total",
		metric.WithDescription("Assistant responses written to history"))
	m.enrichmentFetches, _ = meter.Int64Counter("daa_enrichment_fetches_total",
		metric.WithDescription("Enrichment refresh attempts by source and outcome"))
	m.providerLatency, _ = meter.Float64Histogram("daa_provider_stream_seconds",
		metric.WithDescription("Time from dispatch to end of stream"),
		metric.WithUnit("s"))
	return m
}

func (m *Metrics) ChatRequest(ctx context.Context, provider string) {
	m.chatRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) Fragments(ctx context.Context, provider string, n int) {
	m.fragments.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", provider)))
}

func (m *Metrics) ResponsePersisted(ctx context.Context, provider string, partial bool) {
	m.persistedResponses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("partial", partial),
	))
}

// EnrichmentFetch records a refresh attempt; outcome is "ok", "error" or "stale".
func (m *Metrics) EnrichmentFetch(ctx context.Context, source, outcome string) {
	m.enrichmentFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) ProviderLatency(ctx context.Context, provider string, d time.Duration) {
	m.providerLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}
