package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"daa-assistant/backend/ai"
	"daa-assistant/backend/internal/enrichment"
	"daa-assistant/backend/pkg/chat"
	apperrors "daa-assistant/backend/pkg/errors"
	"daa-assistant/backend/pkg/logger"
	"daa-assistant/backend/shared/observability"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultSessionID is used when a request carries no session id.
const DefaultSessionID = "default"

// State is a step of the per-request pipeline.
type State string

const (
	StateReceived          State = "RECEIVED"
	StatePersistedUserMsg  State = "PERSISTED_USER_MSG"
	StateEnriching         State = "ENRICHING"
	StateAssembled         State = "ASSEMBLED"
	StateDispatched        State = "DISPATCHED"
	StateStreaming         State = "STREAMING"
	StatePersistedResponse State = "PERSISTED_RESPONSE"
	StateDone              State = "DONE"
)

// StateObserver is told about every state a request enters.
type StateObserver func(sessionID string, state State)

var (
	ErrNoMessages   = apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "messages must not be empty")
	ErrEmptyMessage = apperrors.NewBadRequestError(apperrors.CodeEmptyMessage, "the last message has no content")
)

// HistoryStore is the durable conversation log.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, role chat.Role, content, image string)
	Retrieve(ctx context.Context, sessionID string, limit int) []chat.Message
}

// Enricher returns the enrichment records an utterance triggers.
type Enricher interface {
	Collect(ctx context.Context, utterance string) []*enrichment.Record
}

// Assembler builds the provider request.
type Assembler interface {
	Build(system string, history []chat.Message, records []*enrichment.Record, utterance, image string) ai.Request
}

// Dispatcher routes a request to a provider.
type Dispatcher interface {
	Select(model string) ai.Adapter
	Invoke(ctx context.Context, model string, req ai.Request) <-chan string
	ListModels(ctx context.Context) []ai.ModelDescriptor
}

// ChatRequest is one turn sent by a client. Only the last message is new;
// earlier context comes from the history store.
type ChatRequest struct {
	SessionID string         `json:"session_id"`
	ModelID   string         `json:"model"`
	Messages  []chat.Message `json:"messages"`
}

// ChatService runs the receive, persist, enrich, assemble, dispatch, stream
// and persist pipeline for every chat turn.
type ChatService struct {
	history      HistoryStore
	enricher     Enricher
	assembler    Assembler
	router       Dispatcher
	system       string
	historyLimit int
	log          *logger.Logger
	metrics      *observability.Metrics
	observer     StateObserver
}

type ChatOption func(*ChatService)

func WithSystemPrompt(text string) ChatOption {
	return func(s *ChatService) { s.system = text }
}

// WithHistoryLimit caps how many stored messages are sent to the provider.
// Zero uses the history store's default.
func WithHistoryLimit(n int) ChatOption {
	return func(s *ChatService) { s.historyLimit = n }
}

func WithStateObserver(o StateObserver) ChatOption {
	return func(s *ChatService) { s.observer = o }
}

func WithChatMetrics(m *observability.Metrics) ChatOption {
	return func(s *ChatService) { s.metrics = m }
}

func NewChatService(history HistoryStore, enricher Enricher, assembler Assembler, router Dispatcher, log *logger.Logger, opts ...ChatOption) *ChatService {
	s := &ChatService{
		history:   history,
		enricher:  enricher,
		assembler: assembler,
		router:    router,
		log:       log.WithComponent("chat"),
		metrics:   observability.NewMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChatService) observe(sessionID string, state State) {
	if s.observer != nil {
		s.observer(sessionID, state)
	}
}

// HandleChat persists the new user message and returns the provider's
// fragment stream. The stream is closed once the response is stored.
// Cancelling ctx stops the stream; text delivered so far is still saved.
func (s *ChatService) HandleChat(ctx context.Context, req ChatRequest) (<-chan string, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	last := req.Messages[len(req.Messages)-1]
	last.Image = stripDataURL(last.Image)
	if strings.TrimSpace(last.Content) == "" && last.Image == "" {
		return nil, ErrEmptyMessage
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	log := logger.FromContext(ctx, s.log).WithSessionID(sessionID).WithModel(req.ModelID)

	ctx, span := observability.Tracer().Start(ctx, "chat.handle")
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("model", req.ModelID),
	)
	s.observe(sessionID, StateReceived)

	s.history.Append(ctx, sessionID, chat.RoleUser, last.Content, last.Image)
	s.observe(sessionID, StatePersistedUserMsg)

	s.observe(sessionID, StateEnriching)
	records := s.enricher.Collect(ctx, last.Content)

	history := s.history.Retrieve(ctx, sessionID, s.historyLimit)
	providerReq := s.assembler.Build(s.system, history, records, last.Content, last.Image)
	s.observe(sessionID, StateAssembled)

	provider := string(s.router.Select(req.ModelID).Kind())
	span.SetAttributes(attribute.String("provider", provider))
	s.metrics.ChatRequest(ctx, provider)
	log.Info("dispatching chat", "provider", provider, "history", len(providerReq.History), "enrichment", len(records))

	started := time.Now()
	stream := s.router.Invoke(ctx, req.ModelID, providerReq)
	s.observe(sessionID, StateDispatched)

	out := make(chan string)
	go func() {
		defer span.End()
		defer close(out)

		s.observe(sessionID, StateStreaming)
		var sb strings.Builder
		fragments := 0
	loop:
		for frag := range stream {
			select {
			case out <- frag:
				sb.WriteString(frag)
				fragments++
			case <-ctx.Done():
				break loop
			}
		}

		partial := ctx.Err() != nil
		s.metrics.Fragments(ctx, provider, fragments)
		s.metrics.ProviderLatency(ctx, provider, time.Since(started))

		text := sb.String()
		if text != "" {
			// the caller may be gone; the turn is stored regardless
			saveCtx := context.WithoutCancel(ctx)
			s.history.Append(saveCtx, sessionID, chat.RoleAssistant, text, "")
			s.metrics.ResponsePersisted(saveCtx, provider, partial)
			s.observe(sessionID, StatePersistedResponse)
		}
		if partial {
			log.Info("chat cancelled by caller", "fragments", fragments, "saved_chars", len(text))
		}
		s.observe(sessionID, StateDone)
	}()
	return out, nil
}

// stripDataURL drops a "data:image/png;base64," style prefix.
func stripDataURL(image string) string {
	if !strings.HasPrefix(image, "data:") {
		return image
	}
	if i := strings.Index(image, ","); i >= 0 {
		return image[i+1:]
	}
	return ""
}

// Complete runs HandleChat and returns the whole response text.
func (s *ChatService) Complete(ctx context.Context, req ChatRequest) (string, error) {
	stream, err := s.HandleChat(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for frag := range stream {
		sb.WriteString(frag)
	}
	return sb.String(), nil
}

// ListModels returns every provider's models; failing providers are left out.
func (s *ChatService) ListModels(ctx context.Context) []ai.ModelDescriptor {
	models := s.router.ListModels(ctx)
	if models == nil {
		return []ai.ModelDescriptor{}
	}
	return models
}

// History returns stored messages for a session.
func (s *ChatService) History(ctx context.Context, sessionID string, limit int) []chat.Message {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	return s.history.Retrieve(ctx, sessionID, limit)
}

// StateRecorder collects observed states per session. It is safe for
// concurrent use.
type StateRecorder struct {
	mu     sync.Mutex
	states map[string][]State
}

func NewStateRecorder() *StateRecorder {
	return &StateRecorder{states: map[string][]State{}}
}

func (r *StateRecorder) Observe(sessionID string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[sessionID] = append(r.states[sessionID], state)
}

func (r *StateRecorder) States(sessionID string) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states[sessionID]...)
}
