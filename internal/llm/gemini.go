// Package llm reads retrieved literature with a language model. The provider
// is chosen once from domain.LLMConfig; staging logic never depends on it.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

const systemInstruction = `You are a veterinary clinical assistant specialized in FELINE medicine.
STRICT RULES:
- Species: CAT (FELINE) ONLY
- Use ONLY the context provided
- Determine the IRIS stage (1-4) based on the context
- If the context is insufficient, reply "NOT SUFFICIENT"`

// GeminiReader answers staging questions over retrieved passages with the
// Gemini API.
type GeminiReader struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewReader builds the reader for the resolved provider. It returns a nil
// reader and no error when no provider is configured.
func NewReader(ctx context.Context, cfg domain.LLMConfig, logger *logrus.Logger) (domain.PassageReader, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	switch cfg.Provider {
	case domain.LLMProviderGemini:
		reader, err := NewGeminiReader(ctx, cfg, nil, logger)
		if err != nil {
			return nil, err
		}
		return reader, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// NewGeminiReader creates a Gemini client. httpOptions may be nil; tests use
// it to point the client at a local server.
func NewGeminiReader(ctx context.Context, cfg domain.LLMConfig, httpOptions *genai.HTTPOptions, logger *logrus.Logger) (*GeminiReader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpOptions != nil {
		clientConfig.HTTPOptions = *httpOptions
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiReader{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Answer asks the model which IRIS stage the passages support.
func (g *GeminiReader) Answer(ctx context.Context, query string, passages []string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   200,
	}
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(query, passages), genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Gemini generate failed: %w", err)
	}

	answer := strings.TrimSpace(resp.Text())
	g.logger.WithFields(logrus.Fields{
		"model":    g.model,
		"passages": len(passages),
		"chars":    len(answer),
	}).Debug("Gemini answered staging question")

	return answer, nil
}

// BuildPrompt lays out the passages as numbered context followed by the
// consultation query.
func BuildPrompt(query string, passages []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, p)
	}
	b.WriteString("\nQuestion:\nBased on the context, what is the IRIS stage for this cat?\n")
	b.WriteString(query)
	b.WriteString("\n\nAnswer with:\n1. IRIS stage number (1-4)\n2. Brief clinical explanation\n")
	return b.String()
}
