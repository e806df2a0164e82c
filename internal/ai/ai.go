// Package ai is the boundary to the language model that answers agent
// messages and generates mesh configurations.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var ErrNoAPIKey = errors.New("no AI API key configured")

// Request is a single system + user exchange.
type Request struct {
	System string
	Prompt string
}

type Service interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Service.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Settings supplies the credentials and model at call time so runtime
// changes take effect on the next request.
type Settings interface {
	APIKey() (string, error)
	Model() string
}

// Client talks to an OpenAI compatible chat completions endpoint.
type Client struct {
	settings Settings
	baseURL  string
	timeout  time.Duration
}

func NewClient(cfg config.AIConfig, settings Settings) *Client {
	return &Client{
		settings: settings,
		baseURL:  cfg.BaseURL,
		timeout:  cfg.Timeout,
	}
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	key, err := c.settings.APIKey()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrNoAPIKey
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(c.timeout))
	}
	client := openai.NewClient(opts...)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.settings.Model()),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ExtractJSON strips markdown code fences and surrounding prose from a
// model reply, returning the outermost JSON object.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = strings.TrimSpace(rest[:j])
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// AgentRequest frames a message to an agent so the model answers in the
// agent's voice.
func AgentRequest(name, role, prompt, from, content string) Request {
	system := fmt.Sprintf("You are %s, a %s agent in a simulated agent mesh.\n\n%s\n\nReply briefly and stay in character.", name, role, prompt)
	return Request{
		System: system,
		Prompt: fmt.Sprintf("Message from %s:\n%s", from, content),
	}
}
