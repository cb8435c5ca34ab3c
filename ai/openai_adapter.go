package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"

	"github.com/sashabaranov/go-openai"
)

// OpenAIAdapter uses the OpenAI chat completions API.
type OpenAIAdapter struct {
	client *openai.Client
	tools  *ToolTable
	log    *logger.Logger
}

func NewOpenAIAdapter(apiKey, baseURL string, tools *ToolTable, log *logger.Logger) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(cfg),
		tools:  tools,
		log:    log.WithComponent("openai"),
	}
}

func (a *OpenAIAdapter) Kind() ProviderKind { return KindOpenAI }

func (a *OpenAIAdapter) Capabilities() Capabilities {
	return Capabilities{AcceptsImage: true, AcceptsTools: true, Streams: true}
}

func (a *OpenAIAdapter) buildMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	for _, m := range req.History {
		if m.Content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case chat.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case chat.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.Image != "" {
		if req.NewUserMessage != "" {
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.NewUserMessage})
		}
		user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL(req.Image)},
		})
	} else {
		user.Content = req.NewUserMessage
	}
	return append(msgs, user)
}

func convertTools(decls []ToolDeclaration) []openai.Tool {
	if len(decls) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(decls))
	for _, d := range decls {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema(),
			},
		})
	}
	return out
}

func (a *OpenAIAdapter) Invoke(ctx context.Context, model string, req Request) <-chan string {
	return startStream(ctx, KindOpenAI, func(e *emitter) {
		messages := a.buildMessages(req)
		tools := convertTools(req.Tools)

		for round := 0; ; round++ {
			calls, text, err := a.streamOnce(ctx, model, messages, tools, e)
			if err != nil {
				e.fail(err)
				return
			}
			if len(calls) == 0 || ctx.Err() != nil {
				return
			}
			if round >= maxToolRounds {
				e.fail(upstreamError(KindOpenAI, "too many consecutive tool calls"))
				return
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   text,
				ToolCalls: calls,
			})
			for _, call := range calls {
				var args map[string]any
				if call.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
						a.log.Warn("invalid tool arguments", "tool", call.Function.Name, "error", err.Error())
					}
				}
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    a.tools.Call(ctx, call.Function.Name, args),
					ToolCallID: call.ID,
				})
			}
		}
	})
}

func (a *OpenAIAdapter) streamOnce(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool, e *emitter) ([]openai.ToolCall, string, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
	})
	if err != nil {
		return nil, "", classifyOpenAI(err)
	}
	defer stream.Close()

	pending := map[int]*openai.ToolCall{}
	var text strings.Builder
	var finish openai.FinishReason

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", nil
			}
			return nil, "", classifyOpenAI(err)
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if !e.send(choice.Delta.Content) {
					return nil, "", nil
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := pending[idx]
				if !ok {
					acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
					pending[idx] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.Function.Name = tc.Function.Name
				}
				acc.Function.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}

	if finish == openai.FinishReasonContentFilter {
		return nil, "", safetyError(KindOpenAI, string(finish))
	}

	indexes := make([]int, 0, len(pending))
	for idx := range pending {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	calls := make([]openai.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		calls = append(calls, *pending[idx])
	}
	return calls, text.String(), nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		kind := kindForStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			kind = ErrSafety
		}
		return &ProviderError{Provider: KindOpenAI, Kind: kind, Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: KindOpenAI, Kind: kindForStatus(reqErr.HTTPStatusCode), Status: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return networkError(KindOpenAI, err)
}

func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	out := make([]ModelDescriptor, 0, len(list.Models))
	for _, m := range list.Models {
		if !strings.Contains(m.ID, "gpt") {
			continue
		}
		out = append(out, ModelDescriptor{ID: m.ID, DisplayName: "☁️ OpenAI: " + m.ID, Provider: KindOpenAI})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
