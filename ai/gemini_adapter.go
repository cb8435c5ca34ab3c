package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"daa-assistant/backend/pkg/chat"
	"daa-assistant/backend/pkg/logger"
)

const maxToolRounds = 5

// GeminiAdapter streams from the Gemini REST API and runs function calls locally.
type GeminiAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	tools   *ToolTable
	log     *logger.Logger
}

func NewGeminiAdapter(apiKey, baseURL string, tools *ToolTable, log *logger.Logger) *GeminiAdapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &GeminiAdapter{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		tools:   tools,
		log:     log.WithComponent("gemini"),
	}
}

func (a *GeminiAdapter) Kind() ProviderKind { return KindGemini }

func (a *GeminiAdapter) Capabilities() Capabilities {
	return Capabilities{AcceptsImage: true, AcceptsTools: true, Streams: true}
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var geminiSafetyReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

func (a *GeminiAdapter) buildRequest(req Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == chat.RoleSystem || m.Content == "" {
			continue
		}
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	var parts []geminiPart
	if req.NewUserMessage != "" {
		parts = append(parts, geminiPart{Text: req.NewUserMessage})
	}
	if req.Image != "" {
		mime, data := splitDataURL(req.Image)
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: mime, Data: data}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: parts})

	out := geminiRequest{Contents: contents}
	if req.SystemInstruction != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}}
	}
	if len(req.Tools) > 0 {
		out.Tools = []geminiTool{{FunctionDeclarations: req.Tools}}
	}
	return out
}

func (a *GeminiAdapter) Invoke(ctx context.Context, model string, req Request) <-chan string {
	return startStream(ctx, KindGemini, func(e *emitter) {
		body := a.buildRequest(req)
		model = strings.TrimPrefix(model, "models/")

		for round := 0; ; round++ {
			calls, modelParts, err := a.streamOnce(ctx, model, body, e)
			if err != nil {
				e.fail(err)
				return
			}
			if len(calls) == 0 || ctx.Err() != nil {
				return
			}
			if round >= maxToolRounds {
				e.fail(upstreamError(KindGemini, "too many consecutive function calls"))
				return
			}

			responses := make([]geminiPart, 0, len(calls))
			for _, call := range calls {
				result := a.tools.Call(ctx, call.Name, call.Args)
				a.log.Debug("function call executed", "tool", call.Name)
				responses = append(responses, geminiPart{FunctionResponse: &geminiFunctionResponse{
					Name:     call.Name,
					Response: map[string]any{"result": result},
				}})
			}
			body.Contents = append(body.Contents,
				geminiContent{Role: "model", Parts: modelParts},
				geminiContent{Role: "user", Parts: responses},
			)
		}
	})
}

// streamOnce runs one streaming turn, forwarding text and collecting function calls.
func (a *GeminiAdapter) streamOnce(ctx context.Context, model string, body geminiRequest, e *emitter) ([]*geminiFunctionCall, []geminiPart, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", a.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, nil, networkError(KindGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, statusError(KindGemini, resp)
	}

	var calls []*geminiFunctionCall
	var modelParts []geminiPart
	var text strings.Builder

	err = readSSE(resp.Body, func(_, data string) error {
		var chunk geminiStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			a.log.Debug("skipping malformed chunk", "error", err.Error())
			return nil
		}
		if chunk.Error != nil {
			return &ProviderError{Provider: KindGemini, Kind: kindForStatus(chunk.Error.Code), Status: chunk.Error.Code, Message: chunk.Error.Message}
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
			return safetyError(KindGemini, chunk.PromptFeedback.BlockReason)
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					calls = append(calls, part.FunctionCall)
					modelParts = append(modelParts, part)
				case part.Text != "":
					text.WriteString(part.Text)
					if !e.send(part.Text) {
						return ctx.Err()
					}
				}
			}
			if geminiSafetyReasons[cand.FinishReason] {
				return safetyError(KindGemini, cand.FinishReason)
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil
		}
		return nil, nil, streamFailure(KindGemini, err)
	}

	if text.Len() > 0 {
		modelParts = append([]geminiPart{{Text: text.String()}}, modelParts...)
	}
	return calls, modelParts, nil
}

func (a *GeminiAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1beta/models?pageSize=100", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, networkError(KindGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindGemini, resp)
	}

	var payload struct {
		Models []struct {
			Name                       string   `json:"name"`
			DisplayName                string   `json:"displayName"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding model list: %w", err)
	}

	out := make([]ModelDescriptor, 0, len(payload.Models))
	for _, m := range payload.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		if !strings.Contains(id, "gemini") || !supports(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = id
		}
		out = append(out, ModelDescriptor{ID: id, DisplayName: "☁️ " + name, Provider: KindGemini})
	}
	return out, nil
}

func supports(methods []string, want string) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}
