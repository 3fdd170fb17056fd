package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"trustlens-backend/models"
)

const defaultGenerationModel = "gemini-2.5-flash"

// GeminiBackend drafts verdicts with a Gemini model using JSON output
type GeminiBackend struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// GeminiOption configures a GeminiBackend
type GeminiOption func(*GeminiBackend)

// WithGeminiModel overrides the generation model
func WithGeminiModel(name string) GeminiOption {
	return func(g *GeminiBackend) {
		if name != "" {
			g.model = name
		}
	}
}

// WithGeminiLogger sets the logger
func WithGeminiLogger(logger *slog.Logger) GeminiOption {
	return func(g *GeminiBackend) { g.logger = logger }
}

// NewGeminiBackend creates a backend on an existing client
func NewGeminiBackend(client *genai.Client, opts ...GeminiOption) *GeminiBackend {
	g := &GeminiBackend{client: client, model: defaultGenerationModel, temperature: 0.1}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Name identifies the backend
func (g *GeminiBackend) Name() string { return "gemini" }

// Draft asks the model for a verdict. Transport failures and unusable answers
// are returned as *BackendError.
func (g *GeminiBackend) Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (Draft, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}

	resp, err := model.GenerateContent(ctx, genai.Text(BuildPrompt(rule, candidates)))
	if err != nil {
		return Draft{}, &BackendError{Backend: g.Name(), Err: err}
	}

	text := responseText(resp)
	if text == "" {
		return Draft{}, &BackendError{Backend: g.Name(), Err: fmt.Errorf("%w: empty response", ErrMalformedOutput)}
	}

	draft, err := ParseDraft(text, rule)
	if err != nil {
		g.logger.Warn("unusable verification answer", "rule_id", rule.ID, "error", err)
		return Draft{}, &BackendError{Backend: g.Name(), Err: err}
	}
	return draft, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}
