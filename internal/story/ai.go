package story

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/storylineai/storyline/internal/database/models"
)

// interestThemes maps a child's interest to a story theme handed to the
// model. The first matching interest wins; "adventure" is the default.
var interestThemes = map[string]string{
	"animals":   "animal friends",
	"magic":     "magical forest",
	"space":     "space exploration",
	"ocean":     "underwater adventure",
	"princess":  "fairy tale",
	"superhero": "superhero",
	"dragons":   "magical forest",
}

// AIGenerator generates personalized stories via a chat-completion model.
type AIGenerator struct {
	client openai.Client
	model  string
}

// NewAIGenerator creates an AIGenerator. baseURL overrides the API endpoint
// when non-empty, for OpenAI-compatible local backends.
func NewAIGenerator(apiKey, baseURL, model string) *AIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Generate produces a bedtime story tailored to the child. The returned
// story is per-call and never persisted to the catalog.
func (g *AIGenerator) Generate(ctx context.Context, child *models.ChildProfile) (*models.Story, error) {
	theme := "adventure"
	for _, interest := range child.Interests {
		if mapped, ok := interestThemes[strings.ToLower(interest)]; ok {
			theme = mapped
			break
		}
	}

	system := "You are a gentle bedtime storyteller for young children. " +
		"Write a calm, positive story with a soothing ending that helps the child fall asleep. " +
		"No scary elements. Keep it under 400 words."
	language := "English"
	if child.Language == "es" {
		language = "Spanish"
	}
	user := fmt.Sprintf(
		"Write a %s bedtime story in %s for %s, age %d, who loves %s. Use the child's name throughout. Start with the title on the first line.",
		theme, language, child.Name, child.Age, strings.Join(child.Interests, ", "),
	)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(800),
		Temperature: openai.Float(0.8),
	})
	if err != nil {
		return nil, fmt.Errorf("generating story: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("generating story: empty response")
	}

	title, body := splitTitle(resp.Choices[0].Message.Content)
	if body == "" {
		return nil, fmt.Errorf("generating story: empty content")
	}

	words := len(strings.Fields(body))
	duration := words / 25 // slow read-aloud pace
	if duration < 1 {
		duration = 1
	}

	return &models.Story{
		ID:          "ai:" + resp.ID,
		Title:       title,
		Body:        body,
		AgeMin:      child.Age,
		AgeMax:      child.Age,
		Themes:      child.Interests,
		Language:    child.Language,
		DurationMin: duration,
		Source:      models.StorySourceAI,
	}, nil
}

// splitTitle separates the first line of the model output from the body.
func splitTitle(content string) (title, body string) {
	content = strings.TrimSpace(content)
	first, rest, found := strings.Cut(content, "\n")
	if !found {
		return "A Bedtime Story", content
	}
	title = strings.Trim(strings.TrimSpace(first), "#* ")
	if title == "" {
		title = "A Bedtime Story"
	}
	return title, strings.TrimSpace(rest)
}
