package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xxxsen/ragdesk/internal/model"
)

const defaultOllamaBaseURL = "http://localhost:11434"

type ollamaConfig struct {
	BaseURL   string `json:"base_url"`
	Mode      string `json:"mode"`
	Extractor string `json:"extractor"`
}

type ollamaProvider struct {
	baseURL   string
	mode      string
	extractor ResponseExtractor
}

type ollamaChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	System  string        `json:"system,omitempty"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) Generate(ctx context.Context, modelName string, req *GenerateRequest) (string, error) {
	opts := ollamaOptions{
		NumPredict:  req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		Stop:        req.Options.Stop,
	}
	var (
		body []byte
		err  error
	)
	if p.mode == "generate" {
		body, err = postJSON(ctx, p.baseURL+"/api/generate", nil, ollamaGenerateRequest{
			Model:   modelName,
			System:  req.System,
			Prompt:  renderTranscript("", req.Messages),
			Stream:  false,
			Options: opts,
		})
	} else {
		msgs := make([]ollamaChatMsg, 0, len(req.Messages)+1)
		if req.System != "" {
			msgs = append(msgs, ollamaChatMsg{Role: "system", Content: req.System})
		}
		for _, m := range req.Messages {
			msgs = append(msgs, ollamaChatMsg{Role: chatRole(m.Role), Content: m.Content})
		}
		body, err = postJSON(ctx, p.baseURL+"/api/chat", nil, ollamaChatRequest{
			Model:    modelName,
			Messages: msgs,
			Stream:   false,
			Options:  opts,
		})
	}
	if err != nil {
		return "", err
	}
	return p.extractor(body)
}

func (p *ollamaProvider) Embed(ctx context.Context, modelName string, text string, taskType string) ([]float32, error) {
	_ = taskType
	body, err := postJSON(ctx, p.baseURL+"/api/embeddings", nil, ollamaEmbedRequest{Model: modelName, Prompt: text})
	if err != nil {
		return nil, err
	}
	var out ollamaEmbedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode ollama embedding: %w", err)
	}
	return out.Embedding, nil
}

func chatRole(r model.Role) string {
	if r == model.RoleAssistant {
		return "assistant"
	}
	return "user"
}

// renderTranscript flattens a conversation window for completion style
// endpoints, ending with an open assistant turn.
func renderTranscript(system string, msgs []model.Message) string {
	var sb strings.Builder
	sb.WriteString(system)
	for _, m := range msgs {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if m.Role == model.RoleAssistant {
			sb.WriteString("Assistant: ")
		} else {
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
	}
	sb.WriteString("\nAssistant:")
	return sb.String()
}

func postJSON(ctx context.Context, endpoint string, headers map[string]string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("request %s failed: %s: %s", endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func createOllama(args interface{}) (*ollamaProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "chat"
	}
	if mode != "chat" && mode != "generate" {
		return nil, fmt.Errorf("ollama mode must be chat or generate")
	}
	extractorName := cfg.Extractor
	if extractorName == "" {
		extractorName = ExtractMessageContent
		if mode == "generate" {
			extractorName = ExtractResponse
		}
	}
	extractor, err := GetExtractor(extractorName)
	if err != nil {
		return nil, err
	}
	return &ollamaProvider{baseURL: baseURL, mode: mode, extractor: extractor}, nil
}

func init() {
	Register("ollama", func(args interface{}) (IGenerateProvider, error) {
		return createOllama(args)
	})
	RegisterEmbed("ollama", func(args interface{}) (IEmbedProvider, error) {
		return createOllama(args)
	})
}
