package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ChatTurn is one message of a chat conversation. Role is "user" or "model".
type ChatTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type GeminiClient struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	limiter *rate.Limiter
}

// NewGeminiClient creates a client for the given model. rps paces outgoing
// requests; calls block in Wait until a token is available or ctx ends.
func NewGeminiClient(ctx context.Context, apiKey, modelName string, rps float64) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.7)

	if rps <= 0 {
		rps = 1
	}
	burst := int(rps * 2)
	if burst < 1 {
		burst = 1
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

func (g *GeminiClient) Close() {
	g.client.Close()
}

// Generate sends a single prompt and returns the response text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation error: %w", err)
	}

	return extractTextFromResponse(resp)
}

// StreamChat continues a conversation with history and streams the reply to
// onChunk as it arrives. An error from onChunk stops the stream.
func (g *GeminiClient) StreamChat(ctx context.Context, history []ChatTurn, prompt string, onChunk func(string) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	cs := g.model.StartChat()
	for _, turn := range history {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	iter := cs.SendMessageStream(ctx, genai.Text(prompt))
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gemini stream error: %w", err)
		}

		chunk, err := extractTextFromResponse(resp)
		if err != nil {
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	return sb.String(), nil
}
