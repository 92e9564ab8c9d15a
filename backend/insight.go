package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roomly/roomly/backend/match"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// InsightGenerator turns a prompt into a short narrative.
type InsightGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

// geminiGenerator wraps the Google GenAI client.
type geminiGenerator struct {
	client *genai.Client
	model  string
}

func newGeminiGenerator(ctx context.Context, apiKey, model string) (*geminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultGeminiModel
	}
	return &geminiGenerator{client: client, model: model}, nil
}

func (g *geminiGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return out, nil
}

// insightPrompt describes both people and the computed breakdown. The model
// explains the number; it never produces one.
func insightPrompt(viewer, candidate Profile, b match.Breakdown, tier match.Tier) string {
	var s strings.Builder
	s.WriteString("You help people decide whether they would be good roommates.\n")
	s.WriteString("Write two or three friendly sentences addressed to the first person explaining the result below. ")
	s.WriteString("Do not invent a different score.\n\n")

	writePerson := func(label string, p Profile) {
		fmt.Fprintf(&s, "%s:\n", label)
		if p.Budget != nil {
			fmt.Fprintf(&s, "- monthly budget: %.0f\n", *p.Budget)
		}
		fmt.Fprintf(&s, "- sleep: %s\n- cleanliness: %s\n- social: %s\n",
			orUnknown(p.SleepHabit), orUnknown(p.CleanlinessHabit), orUnknown(p.SocialLevel))
		if len(p.Interests) > 0 {
			fmt.Fprintf(&s, "- interests: %s\n", strings.Join(p.Interests, ", "))
		}
		if p.Bio != "" {
			fmt.Fprintf(&s, "- bio: %s\n", p.Bio)
		}
	}
	writePerson("First person", viewer)
	writePerson("Second person", candidate)

	fmt.Fprintf(&s, "\nResult: %d/100 (%s). Budget %.0f/100, lifestyle %d/100, shared interests %d/100.\n",
		b.Total, tier.Label, b.Budget, b.Lifestyle, b.Interests)
	return s.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "not given"
	}
	return s
}
