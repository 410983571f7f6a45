package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/hrygo/nudger/server/service/nudge"
)

// maxVariantWords bounds the rewritten body.
const maxVariantWords = 50

// OpenAIConfig configures the OpenAI-compatible rewrite endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIRewriter asks a chat model for a more personal phrasing of a nudge.
type OpenAIRewriter struct {
	client *openai.Client
	model  string
}

func NewOpenAIRewriter(cfg OpenAIConfig) *OpenAIRewriter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIRewriter{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

func (r *OpenAIRewriter) Rewrite(ctx context.Context, nudgeType string, base *nudge.Content) (*nudge.Content, error) {
	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.8,
		MaxTokens:   300,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(nudgeType, base)},
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "nudge rewrite request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("empty response from LLM")
	}

	var out struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Choices[0].Message.Content)), &out); err != nil {
		return nil, errors.Wrap(err, "unparseable rewrite")
	}
	if strings.TrimSpace(out.Body) == "" {
		return nil, errors.New("rewrite has empty body")
	}
	if len(strings.Fields(out.Body)) > maxVariantWords*2 {
		return nil, errors.New("rewrite too long")
	}
	if out.Title == "" {
		out.Title = base.Title
	}
	return &nudge.Content{
		Title:    out.Title,
		Body:     out.Body,
		Priority: base.Priority,
		Locale:   base.Locale,
	}, nil
}

const systemPrompt = `You rewrite short behavioral nudges for a learning app.
Keep the intent and nudge type. Make it more engaging and personal.
Use Vietnamese cultural metaphors (farming, family) for vi, sports or business metaphors for en.
Reply with JSON only: {"title": "...", "body": "..."}`

func userPrompt(nudgeType string, base *nudge.Content) string {
	return fmt.Sprintf("NUDGE TYPE: %s\nLOCALE: %s\nTITLE: %s\nBODY: %s\nKeep the body under %d words and in the same language.",
		nudgeType, base.Locale, base.Title, base.Body, maxVariantWords)
}

// stripFences removes a Markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
