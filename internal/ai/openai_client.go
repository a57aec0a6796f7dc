package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is a Runtime backed by the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	apiKey string
}

// NewOpenAIClient builds a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), apiKey: apiKey}
}

// reasoning models reject sampling parameters
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range []string{"o1", "o3", "o4"} {
		if m == p || strings.HasPrefix(m, p+"-") {
			return true
		}
	}
	return false
}

func (o *OpenAIClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if o.apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY is missing")
	}
	if req.Model == "" {
		return nil, errors.New("model cannot be empty")
	}
	creq := openai.ChatCompletionRequest{Model: req.Model}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if req.MaxTokens > 0 {
		creq.MaxCompletionTokens = req.MaxTokens
	}
	if req.Temperature > 0 && !isReasoningModel(req.Model) {
		creq.Temperature = float32(req.Temperature)
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	slog.Debug("openai chat completion", "model", req.Model, "messages", len(creq.Messages))
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	out := &GenerateResponse{
		ID: resp.ID,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, Choice{Message: Message{Role: c.Message.Role, Content: c.Message.Content}})
	}
	slog.Debug("openai response", "finish_reason", resp.Choices[0].FinishReason, "total_tokens", resp.Usage.TotalTokens)
	return out, nil
}

// classifyOpenAIError maps go-openai errors onto the package's typed errors.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		ae := &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		if code, ok := apiErr.Code.(string); ok {
			ae.Code = code
		}
		return classifyAPIError(ae, &http.Response{Header: http.Header{}})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		ae := &APIError{StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err)}
		return classifyAPIError(ae, &http.Response{Header: http.Header{}})
	}
	return fmt.Errorf("openai request: %w", err)
}
