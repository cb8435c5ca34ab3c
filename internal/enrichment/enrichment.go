// Package enrichment keeps short-lived snapshots of personal data (health,
// training, indoor sensors, calendar, weather) and refreshes them only when an
// utterance mentions the topic and the snapshot is older than its TTL.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/pkg/resilience"
	"daa-assistant/backend/shared/observability"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
)

type Source string

const (
	Health   Source = "health"
	Activity Source = "activity"
	Sensor   Source = "sensor"
	Calendar Source = "calendar"
	Weather  Source = "weather"
)

// Order is the order records are returned from Collect and rendered in prompts.
var Order = []Source{Health, Activity, Sensor, Calendar, Weather}

// DefaultKeywords maps each source to the lowercase fragments that trigger it.
var DefaultKeywords = map[Source][]string{
	Health:   {"hälsa", "sömn", "sovit", "puls", "stress", "vikten", "health", "sleep", "heart rate"},
	Activity: {"träning", "tränat", "löp", "cykl", "strava", "aktivitet", "workout", "training", "activity", "running"},
	Sensor:   {"temperatur", "inomhus", "fukt", "sensor", "indoor", "humidity"},
	Calendar: {"kalender", "möte", "schema", "bokat", "calendar", "meeting", "schedule", "agenda"},
	Weather:  {"väder", "vädret", "regn", "prognos", "snö", "weather", "forecast", "rain"},
}

// Record is a fetched snapshot. Treat Payload as read-only.
type Record struct {
	Source    Source
	Payload   map[string]any
	FetchedAt time.Time
	TTL       time.Duration
}

func (r *Record) TTLSeconds() int {
	return int(r.TTL / time.Second)
}

// FetchFunc loads a fresh payload for one source.
type FetchFunc func(ctx context.Context) (map[string]any, error)

// SourceConfig registers a source with the cache.
type SourceConfig struct {
	Source   Source
	Keywords []string
	TTL      time.Duration
	Fetch    FetchFunc
}

type sourceState struct {
	cfg     SourceConfig
	breaker *resilience.CircuitBreaker

	mu        sync.Mutex
	lastFetch time.Time
	cached    *Record
}

func (s *sourceState) snapshot() (*Record, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached, s.lastFetch
}

func (s *sourceState) store(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = rec
	s.lastFetch = rec.FetchedAt
}

// Cache owns the per-source state. Create one per process and share it.
type Cache struct {
	sources map[Source]*sourceState
	timeout time.Duration
	now     func() time.Time
	log     *logger.Logger
	metrics *observability.Metrics
}

type Option func(*Cache)

// WithFetchTimeout bounds every fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(log *logger.Logger, sources []SourceConfig, opts ...Option) *Cache {
	c := &Cache{
		sources: make(map[Source]*sourceState, len(sources)),
		timeout: 5 * time.Second,
		now:     time.Now,
		log:     log.WithComponent("enrichment"),
		metrics: observability.NewMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, sc := range sources {
		if sc.Fetch == nil {
			continue
		}
		if sc.Keywords == nil {
			sc.Keywords = DefaultKeywords[sc.Source]
		}
		cbCfg := resilience.DefaultConfig("enrichment-" + string(sc.Source))
		cbCfg.Timeout = c.timeout
		c.sources[sc.Source] = &sourceState{
			cfg:     sc,
			breaker: resilience.NewCircuitBreaker(cbCfg, c.log),
		}
	}
	return c
}

// Sources lists the registered sources in canonical order.
func (c *Cache) Sources() []Source {
	out := make([]Source, 0, len(c.sources))
	for _, s := range Order {
		if _, ok := c.sources[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Triggered reports whether utterance mentions any keyword of src.
func (c *Cache) Triggered(src Source, utterance string) bool {
	st, ok := c.sources[src]
	if !ok {
		return false
	}
	return matches(st.cfg.Keywords, utterance)
}

func matches(keywords []string, utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// MaybeFetch returns the record for src when utterance triggers it, refreshing
// it first if it is missing or older than its TTL. A failed refresh returns the
// previous record (possibly nil). Untriggered calls return nil without touching
// the cache.
func (c *Cache) MaybeFetch(ctx context.Context, src Source, utterance string) *Record {
	st, ok := c.sources[src]
	if !ok || !matches(st.cfg.Keywords, utterance) {
		return nil
	}

	cached, last := st.snapshot()
	now := c.now()
	if cached != nil && now.Sub(last) <= st.cfg.TTL {
		return cached
	}

	payload, err := c.fetch(ctx, st)
	if err != nil && ctx.Err() != nil {
		return cached
	}
	if err != nil {
		outcome := "error"
		if cached != nil {
			outcome = "stale"
		}
		c.metrics.EnrichmentFetch(ctx, string(src), outcome)
		c.log.Warn("enrichment fetch failed", "source", src, "error", err.Error(), "serving_stale", cached != nil)
		return cached
	}

	rec := &Record{
		Source:    src,
		Payload:   payload,
		FetchedAt: now,
		TTL:       st.cfg.TTL,
	}
	st.store(rec)
	c.metrics.EnrichmentFetch(ctx, string(src), "ok")
	return rec
}

func (c *Cache) fetch(ctx context.Context, st *sourceState) (map[string]any, error) {
	ctx, span := observability.Tracer().Start(ctx, "enrichment.fetch")
	span.SetAttributes(attribute.String("source", string(st.cfg.Source)))
	defer span.End()

	type result struct {
		payload map[string]any
		err     error
	}

	var payload map[string]any
	err := st.breaker.Do(ctx, func(ctx context.Context) error {
		// the fetcher may ignore ctx; never wait past the deadline
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("fetch panicked: %v", r)}
				}
			}()
			p, err := st.cfg.Fetch(ctx)
			done <- result{p, err}
		}()
		select {
		case r := <-done:
			payload = r.payload
			return r.err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("empty payload")
	}
	return payload, nil
}

// Collect runs MaybeFetch for every registered source concurrently and
// returns the non-nil records in canonical order.
func (c *Cache) Collect(ctx context.Context, utterance string) []*Record {
	sources := c.Sources()
	results := make([]*Record, len(sources))

	var wg conc.WaitGroup
	for i, src := range sources {
		wg.Go(func() {
			results[i] = c.MaybeFetch(ctx, src, utterance)
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		c.log.Error("enrichment fetch panicked", "panic", fmt.Sprint(r.Value))
	}

	out := make([]*Record, 0, len(results))
	for _, rec := range results {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out
}
