package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const groundingPrompt = "Answer strictly from the provided data. " +
	"If the answer is not present, say it is not available."

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// OpenAIGenerator speaks the OpenAI chat-completions wire format, which
// Groq and most hosted inference providers also serve.
type OpenAIGenerator struct {
	baseURL      string
	apiKey       string
	defaultModel string
	temperature  float64
	maxTokens    int
	client       *http.Client
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return nil, fmt.Errorf("default model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIGenerator{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		temperature:  cfg.Temperature,
		maxTokens:    maxTokens,
		client:       &http.Client{Timeout: timeout},
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.defaultModel
	}

	payload, err := buildChatPayload(model, g.temperature, g.maxTokens, question, req)
	if err != nil {
		return Result{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("empty chat completion choices")
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return Result{}, fmt.Errorf("model returned an empty answer")
	}
	return Result{
		Answer:   text,
		Provider: "openai-compatible",
		Model:    model,
	}, nil
}

func buildChatPayload(model string, temperature float64, maxTokens int, question string, req Request) (map[string]any, error) {
	rowsJSON, err := json.Marshal(req.Rows)
	if err != nil {
		return nil, fmt.Errorf("marshal row context: %w", err)
	}
	userPrompt := fmt.Sprintf(
		"Retrieved data (JSON):\n%s\n\nQuestion:\n%s",
		string(rowsJSON),
		question,
	)
	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": groundingPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":           temperature,
		"max_completion_tokens": maxTokens,
	}, nil
}
