package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// ErrEmptyResponse is returned when the model produced no candidates.
var ErrEmptyResponse = errors.New("llm: empty response from model")

// GeminiConfig configures the Gemini chat model.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature *float32
	// Optional client-side request throttle (requests per second + burst).
	RPS   float64
	Burst int
}

// GeminiModel is a thin wrapper around the official genai client. It requests
// application/json output and retries transient failures a bounded number of
// times with backoff.
type GeminiModel struct {
	cli         *genai.Client
	model       string
	temperature *float32
	rl          *rpsLimiter
}

func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm: gemini model name is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: init gemini client: %w", err)
	}
	return &GeminiModel{
		cli:         cli,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		rl:          newRPSLimiter(cfg.RPS, cfg.Burst),
	}, nil
}

func (g *GeminiModel) Name() string { return "Gemini:" + g.model }

func (g *GeminiModel) Close() error {
	g.rl.Stop()
	return nil
}

// WithTemperature returns a model bound to a different sampling temperature.
// The underlying client and throttle are shared.
func (g *GeminiModel) WithTemperature(t float32) ChatModel {
	clone := *g
	clone.temperature = &t
	return &clone
}

func (g *GeminiModel) Invoke(ctx context.Context, msgs []Message) (Response, error) {
	return g.generate(ctx, msgs, nil)
}

// InvokeStructured constrains the response to the given schema.
func (g *GeminiModel) InvokeStructured(ctx context.Context, msgs []Message, schema Schema) (Response, error) {
	gs, err := toGenaiSchema(schema)
	if err != nil {
		return Response{}, err
	}
	return g.generate(ctx, msgs, gs)
}

func (g *GeminiModel) generate(ctx context.Context, msgs []Message, schema *genai.Schema) (Response, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      g.temperature,
		ResponseSchema:   schema,
	}
	contents, system := toGenaiContents(msgs)
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		// Each API call consumes a throttle token, retries included.
		if err := g.rl.Acquire(ctx); err != nil {
			return Response{}, err
		}
		resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
		switch {
		case err != nil:
			lastErr = err
		case len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0:
			lastErr = ErrEmptyResponse
		default:
			return Response{
				Content: resp.Candidates[0].Content.Parts[0].Text,
				Usage:   usageFrom(resp),
			}, nil
		}
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case <-time.After(time.Duration(300*(1<<attempt)) * time.Millisecond):
		}
	}
	return Response{}, lastErr
}

func toGenaiContents(msgs []Message) ([]*genai.Content, string) {
	var system strings.Builder
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.Content)
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents, system.String()
}

func usageFrom(resp *genai.GenerateContentResponse) TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return TokenUsage{}
	}
	u := resp.UsageMetadata
	return TokenUsage{
		Prompt:     int(u.PromptTokenCount),
		Completion: int(u.CandidatesTokenCount),
		Total:      int(u.TotalTokenCount),
	}
}

// toGenaiSchema converts the provider-neutral schema maps into genai's typed
// schema. Only the subset the agent emits is supported: type, description,
// properties, items, required, enum.
func toGenaiSchema(s Schema) (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}
	out := &genai.Schema{}
	if d, ok := s["description"].(string); ok {
		out.Description = d
	}
	switch t, _ := s["type"].(string); strings.ToLower(t) {
	case "object":
		out.Type = genai.TypeObject
		props, _ := s["properties"].(map[string]any)
		if len(props) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(props))
			for name, raw := range props {
				sub, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("llm: schema property %q is not an object", name)
				}
				conv, err := toGenaiSchema(sub)
				if err != nil {
					return nil, err
				}
				out.Properties[name] = conv
			}
		}
		if req, ok := s["required"].([]string); ok {
			out.Required = req
		} else if req, ok := s["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					out.Required = append(out.Required, name)
				}
			}
		}
	case "array":
		out.Type = genai.TypeArray
		if items, ok := s["items"].(map[string]any); ok {
			conv, err := toGenaiSchema(items)
			if err != nil {
				return nil, err
			}
			out.Items = conv
		}
	case "string":
		out.Type = genai.TypeString
		if enum, ok := s["enum"].([]string); ok {
			out.Enum = enum
		}
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	default:
		return nil, fmt.Errorf("llm: unsupported schema type %v", s["type"])
	}
	return out, nil
}
