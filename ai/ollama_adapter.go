package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"daa-assistant/backend/pkg/logger"
)

// OllamaAdapter talks to a self-hosted Ollama server. It is the default route.
type OllamaAdapter struct {
	baseURL      string
	defaultModel string
	client       *http.Client
	log          *logger.Logger
}

func NewOllamaAdapter(baseURL, defaultModel string, log *logger.Logger) *OllamaAdapter {
	return &OllamaAdapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{},
		log:          log.WithComponent("ollama"),
	}
}

func (a *OllamaAdapter) Kind() ProviderKind { return KindOllama }

func (a *OllamaAdapter) Capabilities() Capabilities {
	return Capabilities{AcceptsImage: true, AcceptsTools: false, Streams: true}
}

// BaseURL is used by the health checker.
func (a *OllamaAdapter) BaseURL() string {
	return a.baseURL
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (a *OllamaAdapter) buildRequest(model string, req Request) ollamaChatRequest {
	if model == "" {
		model = a.defaultModel
	}
	msgs := make([]ollamaMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.History {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	user := ollamaMessage{Role: "user", Content: req.NewUserMessage}
	if req.Image != "" {
		_, data := splitDataURL(req.Image)
		user.Images = []string{data}
	}
	msgs = append(msgs, user)
	return ollamaChatRequest{Model: model, Messages: msgs, Stream: true}
}

func (a *OllamaAdapter) Invoke(ctx context.Context, model string, req Request) <-chan string {
	return startStream(ctx, KindOllama, func(e *emitter) {
		jsonData, err := json.Marshal(a.buildRequest(model, req))
		if err != nil {
			e.fail(fmt.Errorf("error marshaling request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
		if err != nil {
			e.fail(fmt.Errorf("error creating request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(httpReq)
		if err != nil {
			e.fail(networkError(KindOllama, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			e.fail(statusError(KindOllama, resp))
			return
		}

		err = readLines(resp.Body, func(line []byte) error {
			var chunk ollamaChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				return nil
			}
			if chunk.Error != "" {
				return upstreamError(KindOllama, chunk.Error)
			}
			if !e.send(chunk.Message.Content) {
				return ctx.Err()
			}
			if chunk.Done {
				return errStreamDone
			}
			return nil
		})
		if err != nil && err != errStreamDone && ctx.Err() == nil {
			e.fail(streamFailure(KindOllama, err))
		}
	})
}

func (a *OllamaAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, networkError(KindOllama, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(KindOllama, resp)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("error decoding model list: %w", err)
	}

	out := make([]ModelDescriptor, 0, len(payload.Models))
	for _, m := range payload.Models {
		out = append(out, ModelDescriptor{ID: m.Name, DisplayName: "🏠 Ollama: " + m.Name, Provider: KindOllama})
	}
	return out, nil
}
