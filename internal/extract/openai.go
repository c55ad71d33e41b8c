package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/talkorder/talkorder-go/internal/storage"
)

// OpenAIExtractor runs extraction through an OpenAI-compatible chat
// completion API with forced function calling.
type OpenAIExtractor struct {
	client openai.Client
	model  string
}

// NewOpenAIExtractor creates an extractor backed by the OpenAI API.
// Returns nil if apiKey is empty (provider disabled). baseURL overrides
// the endpoint for OpenAI-compatible providers.
func NewOpenAIExtractor(apiKey, model, baseURL string) *OpenAIExtractor {
	if apiKey == "" {
		return nil
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIExtractor{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Provider returns the provider name for usage accounting.
func (e *OpenAIExtractor) Provider() string { return "openai" }

// IsEnabled reports whether this extractor can serve requests.
func (e *OpenAIExtractor) IsEnabled() bool { return e != nil }

// Extract runs one extraction call. The tool choice is required mode so
// the model must answer with a record_order_extraction call.
func (e *OpenAIExtractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	if e == nil {
		return nil, errors.New("openai extractor is nil")
	}

	tool := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        ExtractionFunctionName,
		Description: openai.String("回報從顧客訊息抽取到的訂單資訊"),
		Parameters:  openai.FunctionParameters(req.Profile.ToolParameters()),
	})

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.Profile.SystemPrompt(req)),
	}
	for _, m := range HistoryText(req.History) {
		if m.Role == storage.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Model:    e.model,
		Messages: messages,
		Tools:    []openai.ChatCompletionToolUnionParam{tool},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(openai.ChatCompletionToolChoiceOptionAutoRequired)),
		},
		Temperature: openai.Float(0.1), // Low temperature for consistent extraction
		MaxTokens:   openai.Int(1024),
	}

	start := time.Now()
	resp, err := e.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)

	if err != nil {
		slog.WarnContext(ctx, "extraction API call failed",
			"provider", "openai",
			"model", e.model,
			"input_length", len(req.Message),
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	result, parseErr := e.parseResponse(resp)
	if parseErr == nil && resp.Usage.TotalTokens > 0 {
		slog.DebugContext(ctx, "extraction completed",
			"provider", "openai",
			"model", e.model,
			"input_tokens", resp.Usage.PromptTokens,
			"output_tokens", resp.Usage.CompletionTokens,
			"total_tokens", resp.Usage.TotalTokens,
			"duration_ms", duration.Milliseconds())
	}
	return result, parseErr
}

func (e *OpenAIExtractor) parseResponse(resp *openai.ChatCompletion) (*Result, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("empty response from model")
	}

	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		// Required mode should always produce a tool call.
		return nil, errors.New("no tool call in response")
	}

	tc := choice.Message.ToolCalls[0]
	if tc.Type != "function" {
		return nil, fmt.Errorf("unexpected tool type: %s", tc.Type)
	}
	if tc.Function.Name != ExtractionFunctionName {
		return nil, fmt.Errorf("unknown function: %s", tc.Function.Name)
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return nil, fmt.Errorf("failed to parse function arguments: %w", err)
	}

	return args.toResult("openai", e.model, int(resp.Usage.TotalTokens)), nil
}
