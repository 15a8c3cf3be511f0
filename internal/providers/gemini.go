package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider serves both embeddings and generation through the Gemini
// API. Clients are created per call; the SDK keeps them lightweight.
type GeminiProvider struct {
	keyName    string
	apiKey     string
	embedModel string
	chatModel  string
}

func NewGeminiProvider(keyName string) *GeminiProvider {
	embedModel := strings.TrimSpace(os.Getenv("LITGRAPH_GEMINI_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}
	chatModel := strings.TrimSpace(os.Getenv("LITGRAPH_GEMINI_CHAT_MODEL"))
	if chatModel == "" {
		chatModel = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		keyName:    keyName,
		apiKey:     resolveGeminiKey(keyName),
		embedModel: embedModel,
		chatModel:  chatModel,
	}
}

func (g *GeminiProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.embedModel, Key: g.keyName}
	if g.apiKey == "" {
		return nil, info, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, info, fmt.Errorf("create gemini client: %w", err)
	}
	contents := make([]*genai.Content, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: input}}})
	}
	resp, err := client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, info, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if len(resp.Embeddings) != len(req.Inputs) {
		return nil, info, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(resp.Embeddings), len(req.Inputs))
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, info, fmt.Errorf("gemini returned empty embedding")
		}
		out = append(out, matchDimension(e.Values, req.Dimension))
	}
	return out, info, nil
}

func (g *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "gemini", Model: g.chatModel, Key: g.keyName}
	if g.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("gemini key missing for alias %q", g.keyName)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("create gemini client: %w", err)
	}
	prompt := req.Prompt
	if len(req.Context) > 0 {
		prompt += "\n\nContext:\n" + strings.Join(req.Context, "\n\n")
	}
	resp, err := client.Models.GenerateContent(ctx, g.chatModel,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil)
	if err != nil {
		return GenerateResponse{}, info, fmt.Errorf("gemini generate request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return GenerateResponse{}, info, fmt.Errorf("gemini returned empty response")
	}
	return GenerateResponse{Text: text}, info, nil
}

func resolveGeminiKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("LITGRAPH_GEMINI_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("GEMINI_API_KEY")
}
