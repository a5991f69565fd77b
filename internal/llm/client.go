// Package llm adapts an OpenAI-compatible chat completion API to the
// proposal and synthesis collaborators.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/starford/loom/internal/proposal"
	"github.com/starford/loom/internal/synthesis"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls the chat completion endpoint with JSON responses.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// Verify Client satisfies both collaborator contracts at compile time.
var (
	_ proposal.Proposer     = (*Client)(nil)
	_ synthesis.Synthesizer = (*Client)(nil)
)

// New creates a client. An API key is required.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger.Info("llm client initialised", slog.String("model", cfg.Model))
	return &Client{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Propose asks the model for a block tree. The answer is untrusted and is
// validated before it is returned.
func (c *Client) Propose(ctx context.Context, documentID, text string) (*proposal.Proposal, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("llm: text is empty")
	}
	prompt := "Split the following document into a proposal. Reply with the proposal JSON only.\n\n" + text
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	p, err := proposal.Parse([]byte(raw))
	if err != nil {
		return nil, err
	}
	p.DocumentID = documentID
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Synthesize asks the model to merge the sources.
func (c *Client) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Result, error) {
	var b strings.Builder
	b.WriteString("Merge the following sources into one block. Reply with the merge JSON only.\n")
	if req.Instructions != "" {
		b.WriteString("Instructions: ")
		b.WriteString(req.Instructions)
		b.WriteString("\n")
	}
	for i, src := range req.Sources {
		fmt.Fprintf(&b, "\n### Source %d (id %s): %s\n%s\n", i+1, src.ID, src.Title, src.Content)
	}

	raw, err := c.complete(ctx, b.String())
	if err != nil {
		return nil, err
	}
	var res synthesis.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("llm: decode merge response: %w", err)
	}
	return &res, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: proposal.FormatContract},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		c.logger.Error("llm call failed", slog.String("model", c.model), slog.String("error", err.Error()))
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices returned")
	}
	c.logger.Debug("llm response received", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return stripFence(resp.Choices[0].Message.Content), nil
}

// stripFence removes a surrounding ```json fence some models add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
