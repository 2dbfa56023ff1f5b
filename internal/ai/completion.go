package ai

import (
	"context"
	"fmt"
	"strings"
)

type completionConfig struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	Extractor string `json:"extractor"`
}

// completionProvider talks to llama.cpp style /completion endpoints which take
// a single flattened prompt instead of a message list.
type completionProvider struct {
	url       string
	apiKey    string
	extractor ResponseExtractor
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

func (p *completionProvider) Name() string {
	return "completion"
}

func (p *completionProvider) Generate(ctx context.Context, modelName string, req *GenerateRequest) (string, error) {
	var headers map[string]string
	if p.apiKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + p.apiKey}
	}
	body, err := postJSON(ctx, p.url, headers, completionRequest{
		Model:       modelName,
		Prompt:      renderTranscript(req.System, req.Messages),
		MaxTokens:   req.Options.MaxTokens,
		Temperature: req.Options.Temperature,
		Stop:        req.Options.Stop,
		Stream:      false,
	})
	if err != nil {
		return "", err
	}
	return p.extractor(body)
}

func createCompletionFactory(args interface{}) (IGenerateProvider, error) {
	cfg := &completionConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("completion provider url is required")
	}
	name := cfg.Extractor
	if name == "" {
		name = ExtractContent
	}
	extractor, err := GetExtractor(name)
	if err != nil {
		return nil, err
	}
	return &completionProvider{url: url, apiKey: strings.TrimSpace(cfg.APIKey), extractor: extractor}, nil
}

func init() {
	Register("completion", createCompletionFactory)
}
