package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// GeminiClient implements ports.ScriptWriter on the Gemini API.
type GeminiClient struct {
	client   *genai.Client
	model    string
	generate func(ctx context.Context, prompt string) (string, error)
}

var _ ports.ScriptWriter = (*GeminiClient)(nil)

// NewGeminiClient connects with the configured API key.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is empty: %w", domain.ErrConfiguration)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g := &GeminiClient{client: client, model: cfg.Model}
	g.generate = g.generateContent
	return g, nil
}

// Close releases the underlying client.
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GeminiClient) generateContent(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response from gemini")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// WriteScript generates narration segments for the digest.
func (g *GeminiClient) WriteScript(ctx context.Context, digest domain.Digest) ([]domain.ScriptSegment, string, error) {
	if len(digest.Items) == 0 {
		return nil, "", fmt.Errorf("digest %s has no items", digest.Day.Format(domain.DayLayout))
	}
	reply, err := g.generate(ctx, buildPrompt(digest))
	if err != nil {
		return nil, "", err
	}
	segments := parseSegments(reply)
	if len(segments) == 0 {
		return nil, "", fmt.Errorf("gemini returned an empty script")
	}
	return segments, g.model, nil
}
