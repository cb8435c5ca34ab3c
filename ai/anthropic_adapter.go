package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"
)

const anthropicVersion = "2023-06-01"

// AnthropicAdapter streams from the Anthropic Messages API.
type AnthropicAdapter struct {
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
	tools     *ToolTable
	log       *logger.Logger
}

func NewAnthropicAdapter(apiKey, baseURL string, maxTokens int, tools *ToolTable, log *logger.Logger) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicAdapter{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxTokens: maxTokens,
		client:    &http.Client{},
		tools:     tools,
		log:       log.WithComponent("anthropic"),
	}
}

func (a *AnthropicAdapter) Kind() ProviderKind { return KindAnthropic }

func (a *AnthropicAdapter) Capabilities() Capabilities {
	return Capabilities{AcceptsImage: true, AcceptsTools: true, Streams: true}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string                `json:"type"`
	Text      string                `json:"text,omitempty"`
	Source    *anthropicImageSource `json:"source,omitempty"`
	ID        string                `json:"id,omitempty"`
	Name      string                `json:"name,omitempty"`
	Input     json.RawMessage       `json:"input,omitempty"`
	ToolUseID string                `json:"tool_use_id,omitempty"`
	Content   string                `json:"content,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock *anthropicBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) buildRequest(model string, req Request) anthropicRequest {
	system := req.SystemInstruction
	var messages []anthropicMessage
	appendText := func(role, text string) {
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, anthropicBlock{Type: "text", Text: text})
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: []anthropicBlock{{Type: "text", Text: text}}})
	}

	for _, m := range req.History {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case chat.RoleSystem:
			system += "\n\n" + m.Content
		case chat.RoleAssistant:
			if len(messages) == 0 {
				// conversations must open with a user turn
				continue
			}
			appendText("assistant", m.Content)
		default:
			appendText("user", m.Content)
		}
	}

	if req.NewUserMessage != "" || req.Image == "" {
		appendText("user", req.NewUserMessage)
	}
	if req.Image != "" {
		mediaType, data := splitDataURL(req.Image)
		image := anthropicBlock{
			Type:   "image",
			Source: &anthropicImageSource{Type: "base64", MediaType: mediaType, Data: data},
		}
		if n := len(messages); n > 0 && messages[n-1].Role == "user" {
			messages[n-1].Content = append(messages[n-1].Content, image)
		} else {
			messages = append(messages, anthropicMessage{Role: "user", Content: []anthropicBlock{image}})
		}
	}

	out := anthropicRequest{
		Model:     model,
		MaxTokens: a.maxTokens,
		System:    strings.TrimSpace(system),
		Messages:  messages,
		Stream:    true,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema()})
	}
	return out
}

func (a *AnthropicAdapter) Invoke(ctx context.Context, model string, req Request) <-chan string {
	return startStream(ctx, KindAnthropic, func(e *emitter) {
		body := a.buildRequest(model, req)

		for round := 0; ; round++ {
			blocks, stop, err := a.streamOnce(ctx, body, e)
			if err != nil {
				e.fail(err)
				return
			}
			if stop != "tool_use" || ctx.Err() != nil {
				return
			}
			if round >= maxToolRounds {
				e.fail(upstreamError(KindAnthropic, "too many consecutive tool calls"))
				return
			}

			var results []anthropicBlock
			for _, b := range blocks {
				if b.Type != "tool_use" {
					continue
				}
				var args map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &args); err != nil {
						a.log.Warn("invalid tool input", "tool", b.Name, "error", err.Error())
					}
				}
				results = append(results, anthropicBlock{
					Type:      "tool_result",
					ToolUseID: b.ID,
					Content:   a.tools.Call(ctx, b.Name, args),
				})
			}
			body.Messages = append(body.Messages,
				anthropicMessage{Role: "assistant", Content: blocks},
				anthropicMessage{Role: "user", Content: results},
			)
		}
	})
}

// streamOnce runs one streaming turn and returns the assistant's content
// blocks together with the stop reason.
func (a *AnthropicAdapter) streamOnce(ctx context.Context, body anthropicRequest, e *emitter) ([]anthropicBlock, string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("error marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, "", fmt.Errorf("error creating request: %w", err)
	}
	a.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, "", networkError(KindAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(KindAnthropic, resp)
	}

	blocks := map[int]*anthropicBlock{}
	inputs := map[int]*strings.Builder{}
	maxIndex := -1
	var stop string

	err = readSSE(resp.Body, func(_, data string) error {
		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock == nil {
				return nil
			}
			b := *ev.ContentBlock
			b.Input = nil
			blocks[ev.Index] = &b
			if ev.Index > maxIndex {
				maxIndex = ev.Index
			}
			if b.Type == "tool_use" {
				inputs[ev.Index] = &strings.Builder{}
			}
		case "content_block_delta":
			if ev.Delta == nil {
				return nil
			}
			switch ev.Delta.Type {
			case "text_delta":
				if b, ok := blocks[ev.Index]; ok {
					b.Text += ev.Delta.Text
				}
				if !e.send(ev.Delta.Text) {
					return ctx.Err()
				}
			case "input_json_delta":
				if sb, ok := inputs[ev.Index]; ok {
					sb.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				stop = ev.Delta.StopReason
			}
		case "error":
			msg := "stream error"
			if ev.Error != nil {
				msg = ev.Error.Type + ": " + ev.Error.Message
			}
			return upstreamError(KindAnthropic, msg)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", nil
		}
		return nil, "", streamFailure(KindAnthropic, err)
	}

	if stop == "refusal" {
		return nil, "", safetyError(KindAnthropic, stop)
	}

	out := make([]anthropicBlock, 0, len(blocks))
	for i := 0; i <= maxIndex; i++ {
		b, ok := blocks[i]
		if !ok {
			continue
		}
		if b.Type == "tool_use" {
			raw := "{}"
			if sb := inputs[i]; sb != nil && sb.Len() > 0 {
				raw = sb.String()
			}
			b.Input = json.RawMessage(raw)
		}
		if b.Type == "text" && b.Text == "" {
			continue
		}
		out = append(out, *b)
	}
	return out, stop, nil
}

func (a *AnthropicAdapter) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (a *AnthropicAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, networkError(KindAnthropic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindAnthropic, resp)
	}

	var payload struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding model list: %w", err)
	}

	out := make([]ModelDescriptor, 0, len(payload.Data))
	for _, m := range payload.Data {
		name := m.DisplayName
		if name == "" {
			name = m.ID
		}
		out = append(out, ModelDescriptor{ID: m.ID, DisplayName: "☁️ " + name, Provider: KindAnthropic})
	}
	return out, nil
}
