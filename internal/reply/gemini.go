package reply

import (
	"context"
	"fmt"
	"strings"

	"pagepilot/internal/knowledge/schema"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiGenerator implements Generator using the Google GenAI API.
type GeminiGenerator struct {
	model *genai.GenerativeModel
}

// NewGeminiGenerator creates a new GeminiGenerator for the given model.
func NewGeminiGenerator(apiKey, modelName string) (*GeminiGenerator, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{model: client.GenerativeModel(modelName)}, nil
}

// Generate builds the sales-assistant prompt and asks the model for a reply.
// Transport or safety failures are wrapped as ErrUnavailable.
func (g *GeminiGenerator) Generate(ctx context.Context, businessName, customerText string, snippets []schema.Snippet) (string, error) {
	prompt := buildPrompt(businessName, customerText, snippets)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text := extractText(resp)
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", ErrUnavailable)
	}
	return text, nil
}

// buildPrompt constructs the prompt from the business identity, the customer
// text and the ranked context snippets.
func buildPrompt(businessName, customerText string, snippets []schema.Snippet) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are an on-brand sales assistant for %q.\n", businessName))
	sb.WriteString("Be concise, friendly, and proactive. If price or availability is in the context, include it.\n")
	sb.WriteString("Offer one clear next step (e.g., ask for preferred variant, budget, or contact).\n\n")
	sb.WriteString(fmt.Sprintf("Customer: %q\n\n", customerText))
	sb.WriteString("Relevant context (ranked):\n")
	for i, s := range snippets {
		sb.WriteString(fmt.Sprintf("#%d (score %.3f): %s\n", i+1, s.Score, s.Content))
	}
	sb.WriteString("\nRespond in <= 2 short sentences. Avoid emojis unless present in brand tone.")

	return sb.String()
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return strings.TrimSpace(sb.String())
}

// compile-time check to ensure GeminiGenerator implements the Generator interface
var _ Generator = (*GeminiGenerator)(nil)
