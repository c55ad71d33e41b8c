package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/talkorder/talkorder-go/internal/storage"
)

// GeminiExtractor is the fallback extraction provider, using Gemini
// function calling in ANY mode.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

// NewGeminiExtractor creates a Gemini-backed extractor.
// Returns nil if apiKey is empty (provider disabled).
func NewGeminiExtractor(ctx context.Context, apiKey, model string) (*GeminiExtractor, error) {
	if apiKey == "" {
		return nil, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiExtractor{client: client, model: model}, nil
}

// Provider returns the provider name for usage accounting.
func (e *GeminiExtractor) Provider() string { return "gemini" }

// IsEnabled reports whether this extractor can serve requests.
func (e *GeminiExtractor) IsEnabled() bool { return e != nil && e.client != nil }

// Extract runs one extraction call in ANY mode, forcing a function call.
func (e *GeminiExtractor) Extract(ctx context.Context, req *Request) (*Result, error) {
	if e == nil {
		return nil, errors.New("gemini extractor is nil")
	}

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        ExtractionFunctionName,
				Description: "回報從顧客訊息抽取到的訂單資訊",
				Parameters:  schemaFromMap(req.Profile.ToolParameters()),
			}},
		}},
		SystemInstruction: genai.NewContentFromText(req.Profile.SystemPrompt(req), genai.RoleUser),
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{
				Mode: genai.FunctionCallingConfigModeAny, // Force function calling
			},
		},
		Temperature:     genai.Ptr[float32](0.1),
		MaxOutputTokens: 1024,
	}

	start := time.Now()
	result, err := e.client.Models.GenerateContent(
		ctx,
		e.model,
		genai.Text(buildGeminiInput(req)),
		config,
	)
	duration := time.Since(start)

	if err != nil {
		slog.WarnContext(ctx, "extraction API call failed",
			"provider", "gemini",
			"model", e.model,
			"input_length", len(req.Message),
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, fmt.Errorf("generate content failed: %w", err)
	}

	parsed, parseErr := e.parseResponse(result)
	if parseErr == nil && result.UsageMetadata != nil {
		slog.DebugContext(ctx, "extraction completed",
			"provider", "gemini",
			"model", e.model,
			"total_tokens", result.UsageMetadata.TotalTokenCount,
			"duration_ms", duration.Milliseconds())
	}
	return parsed, parseErr
}

// buildGeminiInput flattens history plus the new message into a single
// text input; Gemini carries the system prompt separately.
func buildGeminiInput(req *Request) string {
	var b strings.Builder
	history := HistoryText(req.History)
	if len(history) > 0 {
		b.WriteString("## 對話紀錄\n")
		for _, m := range history {
			if m.Role == storage.RoleAssistant {
				b.WriteString("店家:")
			} else {
				b.WriteString("顧客:")
			}
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("## 最新訊息\n顧客:")
	b.WriteString(req.Message)
	return b.String()
}

func (e *GeminiExtractor) parseResponse(result *genai.GenerateContentResponse) (*Result, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, errors.New("empty response from model")
	}

	candidate := result.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, errors.New("no content in response")
	}

	for _, part := range candidate.Content.Parts {
		if part.FunctionCall == nil {
			continue
		}
		if part.FunctionCall.Name != ExtractionFunctionName {
			return nil, fmt.Errorf("unknown function: %s", part.FunctionCall.Name)
		}

		// Round-trip through JSON so the wire struct applies the same
		// decoding rules as the OpenAI path.
		raw, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode function arguments: %w", err)
		}
		var args toolArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("failed to parse function arguments: %w", err)
		}

		totalTokens := 0
		if result.UsageMetadata != nil {
			totalTokens = int(result.UsageMetadata.TotalTokenCount)
		}
		return args.toResult("gemini", e.model, totalTokens), nil
	}

	return nil, errors.New("no function call in response")
}

// schemaFromMap converts a JSON-schema style map into a genai.Schema.
// Only the subset used by the extraction tool is supported.
func schemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		switch t {
		case "object":
			s.Type = genai.TypeObject
		case "array":
			s.Type = genai.TypeArray
		case "string":
			s.Type = genai.TypeString
		case "number":
			s.Type = genai.TypeNumber
		case "integer":
			s.Type = genai.TypeInteger
		case "boolean":
			s.Type = genai.TypeBoolean
		}
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]string); ok {
		s.Enum = enum
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				s.Properties[name] = schemaFromMap(subMap)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	if required, ok := m["required"].([]string); ok {
		s.Required = required
	}
	return s
}
