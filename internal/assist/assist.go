// Package assist is the AI writing helper: it sends document text to a
// generative-language endpoint and merges the answer back into content.
package assist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/kidandcat/teamsync/internal/config"
	"github.com/kidandcat/teamsync/internal/db"
)

type Command string

const (
	Summarize Command = "summarize"
	Fix       Command = "fix"
	Expand    Command = "expand"
)

func (c Command) Valid() bool {
	switch c {
	case Summarize, Fix, Expand:
		return true
	}
	return false
}

var (
	// ErrAssist is the only failure callers see from a call that reached
	// the service; details are logged.
	ErrAssist        = errors.New("AI processing failed")
	ErrNotConfigured = errors.New("AI assist is not configured")
)

const (
	writingInstruction  = "You are a professional writing assistant. Respond only with the modified text, keeping a clean and professional tone."
	briefingInstruction = "You are a smart team schedule manager. Analyze the calendar events and provide a short professional briefing."
)

var prompts = map[Command]string{
	Summarize: "Summarize the following in three lines:\n\n",
	Fix:       "Correct the spelling of the following text and polish it into a natural, professional style:\n\n",
	Expand:    "Expand the following into a longer, more detailed text:\n\n",
}

type Client struct {
	cfg   config.AssistConfig
	genai *genai.Client
	log   zerolog.Logger
}

// NewClient builds the client. Without an API key every call fails with
// ErrNotConfigured.
func NewClient(cfg config.AssistConfig, log zerolog.Logger) *Client {
	c := &Client{cfg: cfg, log: log.With().Str("component", "assist").Logger()}
	if cfg.APIKey == "" {
		return c
	}
	gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.Endpoint},
	})
	if err != nil {
		c.log.Error().Err(err).Msg("error creating assist client")
		return c
	}
	c.genai = gc
	return c
}

func (c *Client) Configured() bool { return c.genai != nil }

// Transform runs cmd over text and returns the model's answer.
func (c *Client) Transform(ctx context.Context, text string, cmd Command) (string, error) {
	if !cmd.Valid() {
		return "", &db.ValidationError{Field: "command", Reason: fmt.Sprintf("unknown command %q", cmd)}
	}
	if strings.TrimSpace(text) == "" {
		return "", &db.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	return c.generate(ctx, writingInstruction, prompts[cmd]+text)
}

// Briefing summarizes upcoming schedule events for the team.
func (c *Client) Briefing(ctx context.Context, events []db.ScheduleEvent) (string, error) {
	var b strings.Builder
	b.WriteString("These are the team's upcoming schedules. In at most three lines, brief the main flow, availability and anything worth sharing:\n\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%s: [%s] %s (%s ~ %s) - %s\n", e.UserName, e.Type, e.Title, e.StartDate, e.EndDate, e.Description)
	}
	return c.generate(ctx, briefingInstruction, b.String())
}

func (c *Client) generate(ctx context.Context, instruction, prompt string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	text, err := c.call(ctx, instruction, prompt)
	if err != nil {
		c.log.Error().Err(err).Msg("error calling assist service")
		return "", ErrAssist
	}
	return text, nil
}

func (c *Client) call(ctx context.Context, instruction, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

// SummaryHeader marks a summary placed above the original text.
const SummaryHeader = "> 🤖 **AI summary**"

// Apply merges a Transform result into the document content.
func Apply(original string, cmd Command, result string) string {
	switch cmd {
	case Summarize:
		return SummaryHeader + "\n" + result + "\n\n---\n\n" + original
	case Fix:
		return result
	case Expand:
		return original + "\n\n" + result
	}
	return original
}
