package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAnthropicEvents(w http.ResponseWriter, events ...[2]string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range events {
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev[0], ev[1])
	}
}

func TestAnthropicBuildRequest(t *testing.T) {
	a := NewAnthropicAdapter("k", "", 0, nil, logger.Nop())
	req := a.buildRequest("claude-3-5-sonnet", Request{
		SystemInstruction: "Du är en butler.",
		History: []chat.Message{
			{Role: chat.RoleAssistant, Content: "Välkommen"},
			{Role: chat.RoleUser, Content: "Hej"},
			{Role: chat.RoleUser, Content: "Är du där?"},
			{Role: chat.RoleSystem, Content: "Svara kort."},
			{Role: chat.RoleAssistant, Content: "Ja."},
		},
		NewUserMessage: "Bra",
		Image:          "data:image/png;base64,aGVq",
	})

	assert.Equal(t, 2048, req.MaxTokens)
	assert.Equal(t, "Du är en butler.\n\nSvara kort.", req.System)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Len(t, req.Messages[0].Content, 2)
	assert.Equal(t, "assistant", req.Messages[1].Role)

	last := req.Messages[2]
	require.Len(t, last.Content, 2)
	assert.Equal(t, "Bra", last.Content[0].Text)
	assert.Equal(t, "image/png", last.Content[1].Source.MediaType)
	assert.Equal(t, "aGVq", last.Content[1].Source.Data)
}

func TestAnthropicImageOnlyTurn(t *testing.T) {
	a := NewAnthropicAdapter("k", "", 0, nil, logger.Nop())
	req := a.buildRequest("claude-3-5-sonnet", Request{
		History: []chat.Message{
			{Role: chat.RoleUser, Image: "aGVq"},
			{Role: chat.RoleAssistant, Content: "En katt."},
			{Role: chat.RoleUser, Content: "Och nu?"},
		},
		Image: "aGVq",
	})

	require.Len(t, req.Messages, 1)
	last := req.Messages[0]
	require.Len(t, last.Content, 2)
	assert.Equal(t, "Och nu?", last.Content[0].Text)
	assert.Equal(t, "image", last.Content[1].Type)
	for _, m := range req.Messages {
		for _, block := range m.Content {
			if block.Type == "text" {
				assert.NotEmpty(t, block.Text)
			}
		}
	}
}

func TestAnthropicParameterlessToolGetsEmptySchema(t *testing.T) {
	a := NewAnthropicAdapter("k", "", 0, nil, logger.Nop())
	req := a.buildRequest("claude-3-5-sonnet", Request{
		NewUserMessage: "Väder?",
		Tools:          []ToolDeclaration{{Name: "get_weather"}},
	})
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "object", req.Tools[0].InputSchema["type"])
}

func TestAnthropicStreamsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		writeAnthropicEvents(w,
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_1"}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"ping", `{"type":"ping"}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"God "}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"morgon"}}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("k", srv.URL, 512, nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "claude-3-5-haiku", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"God ", "morgon"}, got)
}

func TestAnthropicToolUseLoop(t *testing.T) {
	var mu sync.Mutex
	var bodies []anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			writeAnthropicEvents(w,
				[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
				[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Jag kollar. "}}`},
				[2]string{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`},
				[2]string{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`},
				[2]string{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Uppsala\"}"}}`},
				[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"}}`},
			)
			return
		}
		writeAnthropicEvents(w,
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Soligt."}}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"}}`},
		)
	}))
	defer srv.Close()

	var calls []map[string]any
	tools := weatherTools(t, &calls)
	a := NewAnthropicAdapter("k", srv.URL, 0, tools, logger.Nop())

	out := joined(t, a.Invoke(context.Background(), "claude-3-5-sonnet", Request{
		NewUserMessage: "Väder i Uppsala?",
		Tools:          tools.Declarations(),
	}))

	assert.Equal(t, "Jag kollar. Soligt.", out)
	require.Len(t, calls, 1)
	assert.Equal(t, "Uppsala", calls[0]["city"])

	require.Len(t, bodies, 2)
	require.Len(t, bodies[0].Tools, 1)
	msgs := bodies[1].Messages
	require.Len(t, msgs, 3)

	assistant := msgs[1]
	assert.Equal(t, "assistant", assistant.Role)
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, "tool_use", assistant.Content[1].Type)
	assert.JSONEq(t, `{"city":"Uppsala"}`, string(assistant.Content[1].Input))

	result := msgs[2]
	assert.Equal(t, "user", result.Role)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "tool_result", result.Content[0].Type)
	assert.Equal(t, "toolu_1", result.Content[0].ToolUseID)
	assert.Equal(t, "plus tre grader och sol", result.Content[0].Content)
}

func TestAnthropicRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicEvents(w,
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"refusal"}}`},
		)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("k", srv.URL, 0, nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "claude-3-5-sonnet", Request{NewUserMessage: "..."}))
	assert.Equal(t, []string{"⚠️ Claude blocked the response (content safety)."}, got)
}

func TestAnthropicErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicEvents(w,
			[2]string{"error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`},
		)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("k", srv.URL, 0, nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "claude-3-5-sonnet", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"⚠️ Claude Error: overloaded_error: Overloaded"}, got)
}

func TestAnthropicUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type":"error","error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAnthropicAdapter("bad", srv.URL, 0, nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "claude-3-5-sonnet", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"⚠️ Claude Error: authentication failed (401)"}, got)
}

func TestAnthropicListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"data":[{"id":"claude-3-5-sonnet-20241022","display_name":"Claude 3.5 Sonnet"},{"id":"claude-3-haiku"}]}`)
	}))
	defer srv.Close()

	models, err := NewAnthropicAdapter("k", srv.URL, 0, nil, logger.Nop()).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelDescriptor{
		{ID: "claude-3-5-sonnet-20241022", DisplayName: "☁️ Claude 3.5 Sonnet", Provider: KindAnthropic},
		{ID: "claude-3-haiku", DisplayName: "☁️ claude-3-haiku", Provider: KindAnthropic},
	}, models)
}
