package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"daa-assistant/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAIBody struct {
	Messages []struct {
		Role       string `json:"role"`
		Content    any    `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func TestOpenAIStreamsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		writeSSE(w,
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hej "}}]}`,
			`{"id":"1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"Anders"},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("sk-test", srv.URL+"/v1", NewToolTable(), logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "gpt-4o", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"Hej ", "Anders"}, got)
}

func TestOpenAIToolCalls(t *testing.T) {
	var mu sync.Mutex
	var bodies []openAIBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body openAIBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		n := len(bodies)
		mu.Unlock()

		if n == 1 {
			writeSSE(w,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\""}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"Göteborg\"}"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
				`[DONE]`,
			)
			return
		}
		writeSSE(w,
			`{"choices":[{"index":0,"delta":{"content":"Sol i Göteborg."},"finish_reason":"stop"}]}`,
			`[DONE]`,
		)
	}))
	defer srv.Close()

	var calls []map[string]any
	tools := weatherTools(t, &calls)
	a := NewOpenAIAdapter("sk", srv.URL+"/v1", tools, logger.Nop())

	out := joined(t, a.Invoke(context.Background(), "gpt-4o-mini", Request{
		SystemInstruction: "system",
		NewUserMessage:    "Väder i Göteborg?",
		Tools:             tools.Declarations(),
	}))

	assert.Equal(t, "Sol i Göteborg.", out)
	require.Len(t, calls, 1)
	assert.Equal(t, "Göteborg", calls[0]["city"])

	require.Len(t, bodies, 2)
	require.Len(t, bodies[0].Tools, 1)
	assert.Equal(t, "get_weather", bodies[0].Tools[0].Function.Name)
	second := bodies[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Equal(t, "plus tre grader och sol", last.Content)
}

func TestOpenAIContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"choices":[{"index":0,"delta":{},"finish_reason":"content_filter"}]}`, `[DONE]`)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("sk", srv.URL+"/v1", nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "gpt-4o", Request{NewUserMessage: "..."}))
	assert.Equal(t, []string{"⚠️ OpenAI blocked the response (content safety)."}, got)
}

func TestOpenAIQuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`)
	}))
	defer srv.Close()

	a := NewOpenAIAdapter("sk", srv.URL+"/v1", nil, logger.Nop())
	got := drain(t, a.Invoke(context.Background(), "gpt-4o", Request{NewUserMessage: "Hej"}))
	assert.Equal(t, []string{"⚠️ OpenAI Error: quota exceeded, try again later"}, got)
}

func TestOpenAIListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		fmt.Fprint(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model"},{"id":"whisper-1","object":"model"},{"id":"gpt-4o-mini","object":"model"}]}`)
	}))
	defer srv.Close()

	models, err := NewOpenAIAdapter("sk", srv.URL+"/v1", nil, logger.Nop()).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gpt-4o", models[0].ID)
	assert.Equal(t, "☁️ OpenAI: gpt-4o-mini", models[1].DisplayName)
}
