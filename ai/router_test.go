package ai

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	kind      ProviderKind
	caps      Capabilities
	fragments []string
	models    []ModelDescriptor
	listErr   error

	mu      sync.Mutex
	lastReq Request
	invoked int
}

func (f *fakeAdapter) Kind() ProviderKind         { return f.kind }
func (f *fakeAdapter) Capabilities() Capabilities { return f.caps }

func (f *fakeAdapter) Invoke(ctx context.Context, model string, req Request) <-chan string {
	f.mu.Lock()
	f.lastReq = req
	f.invoked++
	f.mu.Unlock()
	return startStream(ctx, f.kind, func(e *emitter) {
		for _, frag := range f.fragments {
			if !e.send(frag) {
				return
			}
		}
	})
}

func (f *fakeAdapter) ListModels(context.Context) ([]ModelDescriptor, error) {
	return f.models, f.listErr
}

func newTestRouter() (*Router, *fakeAdapter, *fakeAdapter, *fakeAdapter) {
	local := &fakeAdapter{kind: KindOllama, caps: Capabilities{Streams: true}, fragments: []string{"lokal"}}
	gemini := &fakeAdapter{kind: KindGemini, caps: Capabilities{AcceptsImage: true, AcceptsTools: true, Streams: true}, fragments: []string{"Hej ", "Anders"}}
	openai := &fakeAdapter{kind: KindOpenAI, caps: Capabilities{AcceptsImage: true, AcceptsTools: true, Streams: true}}
	r := NewRouter(local, logger.Nop(), WithAdapter(gemini), WithAdapter(openai))
	return r, local, gemini, openai
}

func TestSelect(t *testing.T) {
	r, local, gemini, openai := newTestRouter()

	assert.Same(t, gemini, r.Select("gemini-1.5-flash"))
	assert.Same(t, gemini, r.Select("models/Gemini-2.0-pro"))
	assert.Same(t, openai, r.Select("gpt-4o"))
	assert.Same(t, local, r.Select("llama3.1:8b"))
	assert.Same(t, local, r.Select(""))
	// claude has a rule but no configured adapter
	assert.Same(t, local, r.Select("claude-3-5-sonnet"))
}

func TestRulesAreOrdered(t *testing.T) {
	local := &fakeAdapter{kind: KindOllama}
	gemini := &fakeAdapter{kind: KindGemini}
	openai := &fakeAdapter{kind: KindOpenAI}
	r := NewRouter(local, logger.Nop(), WithAdapter(gemini), WithAdapter(openai))

	assert.Same(t, gemini, r.Select("gemini-gpt-hybrid"))
}

func TestInvokeStreamsFragments(t *testing.T) {
	r, _, gemini, _ := newTestRouter()

	got := drain(t, r.Invoke(context.Background(), "gemini-1.5-flash", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"Hej ", "Anders"}, got)
	assert.Equal(t, 1, gemini.invoked)
}

func TestInvokeStripsUnsupportedInputs(t *testing.T) {
	r, local, _, _ := newTestRouter()
	history := []chat.Message{{Role: chat.RoleUser, Content: "titta", Image: "abc"}}
	req := Request{
		NewUserMessage: "vad ser du?",
		Image:          "aGVq",
		History:        history,
		Tools:          []ToolDeclaration{{Name: "get_weather"}},
	}

	drain(t, r.Invoke(context.Background(), "mistral", req))

	assert.Empty(t, local.lastReq.Image)
	assert.Nil(t, local.lastReq.Tools)
	assert.Empty(t, local.lastReq.History[0].Image)
	assert.Equal(t, "abc", history[0].Image, "caller history must not be mutated")
}

func TestInvokeCancellation(t *testing.T) {
	local := &fakeAdapter{kind: KindOllama, fragments: []string{"a", "b", "c", "d"}}
	r := NewRouter(local, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Invoke(ctx, "llama3", Request{})
	first := <-ch
	cancel()

	assert.Equal(t, "a", first)
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "stream not closed after cancel")
	}
}

func TestListModelsOmitsFailingProvider(t *testing.T) {
	local := &fakeAdapter{kind: KindOllama, models: []ModelDescriptor{{ID: "llama3", Provider: KindOllama}}}
	gemini := &fakeAdapter{kind: KindGemini, listErr: errors.New("403")}
	openai := &fakeAdapter{kind: KindOpenAI, models: []ModelDescriptor{{ID: "gpt-4o", Provider: KindOpenAI}}}
	r := NewRouter(local, logger.Nop(), WithAdapter(gemini), WithAdapter(openai), WithAdapter(nil))

	models := r.ListModels(context.Background())
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, "gpt-4o", models[1].ID)
	assert.Equal(t, []ProviderKind{KindOllama, KindGemini, KindOpenAI}, r.Providers())
}
