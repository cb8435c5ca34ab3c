package ai

import (
	"context"
	"strings"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/shared/observability"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
)

// Rule routes model ids containing any of Fragments to Kind.
type Rule struct {
	Kind      ProviderKind
	Fragments []string
}

// DefaultRules are evaluated in order; the first match wins.
var DefaultRules = []Rule{
	{Kind: KindGemini, Fragments: []string{"gemini"}},
	{Kind: KindOpenAI, Fragments: []string{"gpt", "chatgpt", "openai"}},
	{Kind: KindAnthropic, Fragments: []string{"claude"}},
}

// Router picks an adapter per request from the model id.
type Router struct {
	rules    []Rule
	adapters map[ProviderKind]Adapter
	order    []ProviderKind
	fallback Adapter
	log      *logger.Logger
}

type RouterOption func(*Router)

// WithAdapter registers a non-default provider. Nil adapters are ignored.
func WithAdapter(a Adapter) RouterOption {
	return func(r *Router) {
		if a == nil {
			return
		}
		if _, exists := r.adapters[a.Kind()]; !exists {
			r.order = append(r.order, a.Kind())
		}
		r.adapters[a.Kind()] = a
	}
}

// WithRules replaces the routing table.
func WithRules(rules []Rule) RouterOption {
	return func(r *Router) { r.rules = rules }
}

// NewRouter builds a router whose unmatched model ids go to fallback.
func NewRouter(fallback Adapter, log *logger.Logger, opts ...RouterOption) *Router {
	r := &Router{
		rules:    DefaultRules,
		adapters: map[ProviderKind]Adapter{fallback.Kind(): fallback},
		order:    []ProviderKind{fallback.Kind()},
		fallback: fallback,
		log:      log.WithComponent("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Select returns the adapter for model. A rule whose provider is not
// configured falls through to the default.
func (r *Router) Select(model string) Adapter {
	lower := strings.ToLower(model)
	for _, rule := range r.rules {
		for _, frag := range rule.Fragments {
			if frag == "" || !strings.Contains(lower, strings.ToLower(frag)) {
				continue
			}
			if a, ok := r.adapters[rule.Kind]; ok {
				return a
			}
			r.log.Warn("provider not configured, using default", "model", model, "provider", rule.Kind)
			return r.fallback
		}
	}
	return r.fallback
}

// Invoke routes req and returns the adapter's fragment stream. Inputs the
// provider cannot accept are stripped first.
func (r *Router) Invoke(ctx context.Context, model string, req Request) <-chan string {
	a := r.Select(model)
	req = adjustForCapabilities(req, a.Capabilities())

	ctx, span := observability.Tracer().Start(ctx, "provider.invoke")
	span.SetAttributes(
		attribute.String("provider", string(a.Kind())),
		attribute.String("model", model),
	)

	src := a.Invoke(ctx, model, req)
	out := make(chan string)
	go func() {
		defer span.End()
		defer close(out)
		for frag := range src {
			select {
			case out <- frag:
			case <-ctx.Done():
				// drain so the adapter goroutine can exit
				for range src {
				}
				return
			}
		}
	}()
	return out
}

func adjustForCapabilities(req Request, caps Capabilities) Request {
	out := req
	out.History = chat.Clone(req.History)
	if !caps.AcceptsImage {
		out.Image = ""
		for i := range out.History {
			out.History[i].Image = ""
		}
	}
	if !caps.AcceptsTools {
		out.Tools = nil
	}
	return out
}

// ListModels aggregates every provider's catalog. Providers that fail are
// left out.
func (r *Router) ListModels(ctx context.Context) []ModelDescriptor {
	results := make([][]ModelDescriptor, len(r.order))

	p := pool.New().WithMaxGoroutines(len(r.order))
	for i, kind := range r.order {
		a := r.adapters[kind]
		p.Go(func() {
			models, err := a.ListModels(ctx)
			if err != nil {
				r.log.Warn("model listing failed", "provider", kind, "error", err.Error())
				return
			}
			results[i] = models
		})
	}
	p.Wait()

	var out []ModelDescriptor
	for _, models := range results {
		out = append(out, models...)
	}
	return out
}

// Providers lists the configured provider kinds, default first.
func (r *Router) Providers() []ProviderKind {
	return append([]ProviderKind(nil), r.order...)
}
