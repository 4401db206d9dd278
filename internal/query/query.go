package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/dshills/reposearch/internal/logging"
)

var (
	// ErrNoModel is returned when a condenser is built without a model name
	ErrNoModel = errors.New("query model not configured")
	// ErrNoAPIKey is returned when a condenser is built without an API key
	ErrNoAPIKey = errors.New("gemini api key not configured")
)

// Preprocessor rewrites a user query before it is embedded
type Preprocessor interface {
	Condense(ctx context.Context, query string) (string, error)
}

// Passthrough returns queries unchanged
type Passthrough struct{}

func (Passthrough) Condense(_ context.Context, query string) (string, error) {
	return query, nil
}

// Example is one few-shot pair shown to the model
type Example struct {
	Query     string `json:"query"`
	Condensed string `json:"condensed"`
}

// LoadExamples reads a JSON array of examples from path
func LoadExamples(path string) ([]Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read few-shot examples: %w", err)
	}

	var examples []Example
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("parse few-shot examples %s: %w", path, err)
	}
	return examples, nil
}

const instructions = `Rewrite the user's question as a short search query for finding software repositories.
Keep technical terms, languages and library names. Drop filler words.
Answer with the rewritten query on a single line and nothing else.`

// BuildPrompt renders the few-shot prompt for query
func BuildPrompt(examples []Example, query string) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	for _, ex := range examples {
		fmt.Fprintf(&b, "Question: %s\nQuery: %s\n\n", ex.Query, ex.Condensed)
	}
	fmt.Fprintf(&b, "Question: %s\nQuery:", strings.TrimSpace(query))
	return b.String()
}

// contentGenerator is the subset of *genai.Models used by the condenser
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiCondenser asks a Gemini model to shorten queries
type GeminiCondenser struct {
	models   contentGenerator
	model    string
	examples []Example
	logger   *zap.Logger
}

// NewGeminiCondenser creates a condenser backed by the Gemini API
func NewGeminiCondenser(ctx context.Context, apiKey, model string, examples []Example, logger *zap.Logger) (*GeminiCondenser, error) {
	if model == "" {
		return nil, ErrNoModel
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return newGeminiCondenser(client.Models, model, examples, logger), nil
}

func newGeminiCondenser(models contentGenerator, model string, examples []Example, logger *zap.Logger) *GeminiCondenser {
	return &GeminiCondenser{
		models:   models,
		model:    model,
		examples: examples,
		logger:   logging.OrNop(logger),
	}
}

// Condense returns the model's rewrite of query. An empty answer yields the
// original query.
func (g *GeminiCondenser) Condense(ctx context.Context, query string) (string, error) {
	prompt := BuildPrompt(g.examples, query)

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("condense query: %w", err)
	}

	answer := firstLine(resp.Text())
	if answer == "" {
		g.logger.Debug("empty condenser answer, using raw query", zap.String("model", g.model))
		return query, nil
	}
	return answer, nil
}

// firstLine returns the first non-blank line with surrounding quotes removed
func firstLine(s string) string {
	for line := range strings.Lines(s) {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "Query:")
		line = strings.Trim(strings.TrimSpace(line), "\"'`")
		if line != "" {
			return line
		}
	}
	return ""
}
