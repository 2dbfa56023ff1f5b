package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ResponseExtractor pulls the generated text out of a raw provider payload.
type ResponseExtractor func(body []byte) (string, error)

const (
	ExtractMessageContent = "message.content"
	ExtractChoices        = "choices"
	ExtractContent        = "content"
	ExtractResponse       = "response"
)

var (
	extractorMu sync.RWMutex
	extractors  = map[string]ResponseExtractor{}
)

func RegisterExtractor(name string, fn ResponseExtractor) {
	key := normalizeName(name)
	if key == "" || fn == nil {
		return
	}
	extractorMu.Lock()
	extractors[key] = fn
	extractorMu.Unlock()
}

func GetExtractor(name string) (ResponseExtractor, error) {
	extractorMu.RLock()
	fn := extractors[normalizeName(name)]
	extractorMu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("unsupported response extractor: %s", name)
	}
	return fn, nil
}

func extractMessageContent(body []byte) (string, error) {
	var out struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if out.Message == nil {
		return "", fmt.Errorf("chat response has no message")
	}
	return out.Message.Content, nil
}

func extractChoices(body []byte) (string, error) {
	var out struct {
		Choices []struct {
			Text    string `json:"text"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode choices response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	if content := out.Choices[0].Message.Content; strings.TrimSpace(content) != "" {
		return content, nil
	}
	return out.Choices[0].Text, nil
}

func extractField(field string) ResponseExtractor {
	return func(body []byte) (string, error) {
		var out map[string]json.RawMessage
		if err := json.Unmarshal(body, &out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		raw, ok := out[field]
		if !ok {
			return "", fmt.Errorf("response has no %s field", field)
		}
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return "", fmt.Errorf("decode %s field: %w", field, err)
		}
		return text, nil
	}
}

func init() {
	RegisterExtractor(ExtractMessageContent, extractMessageContent)
	RegisterExtractor(ExtractChoices, extractChoices)
	RegisterExtractor(ExtractContent, extractField("content"))
	RegisterExtractor(ExtractResponse, extractField("response"))
}
