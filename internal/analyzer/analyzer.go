package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
)

// ChatCompleter is the slice of the OpenAI client the analyzer needs. Tests
// substitute a canned implementation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer narrates a compressed session through an OpenAI-compatible chat
// endpoint. The prompt carries the friction-flagged log lines, so the model
// sees evidence rather than raw replay events.
type Analyzer struct {
	client  ChatCompleter
	model   string
	maxLogs int
}

func New(cfg config.AnalyzerConfig) *Analyzer {
	return NewWithClient(openai.NewClient(cfg.APIKey), cfg)
}

// NewWithClient wires a custom completion client.
func NewWithClient(client ChatCompleter, cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{
		client:  client,
		model:   cfg.Model,
		maxLogs: cfg.MaxLogs,
	}
}

const systemPrompt = `You are a UX analyst reading one compressed browser session: a timestamped action narrative with friction flags, a behavior summary, and derived signals. Explain what the user tried to do, where they struggled, and whether anything looks broken. Be specific and brief.`

// Analyze renders the session into a prompt and returns the model's reading
// of it.
func (a *Analyzer) Analyze(ctx context.Context, session semantic.Session) (string, error) {
	prompt, err := BuildContext(session, a.maxLogs)
	if err != nil {
		return "", err
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// BuildContext renders one session as the prompt body: a header, the
// selected narrative lines, then summary and signals as compact JSON.
// maxLogs bounds the narrative; selection keeps every flagged line first.
func BuildContext(session semantic.Session, maxLogs int) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Page: %s", session.PageURL)
	if session.PageTitle != "" {
		fmt.Fprintf(&b, " (%s)", session.PageTitle)
	}
	fmt.Fprintf(&b, "\nDuration: %s across %d raw events\n", session.TotalDuration, session.EventCount)
	if session.Viewport.Width > 0 {
		fmt.Fprintf(&b, "Viewport: %dx%d\n", session.Viewport.Width, session.Viewport.Height)
	}

	b.WriteString("\nNarrative:\n")
	selected := semantic.SelectLogs(session.Logs, maxLogs)
	if len(selected) == 0 {
		b.WriteString("(no user activity recorded)\n")
	}
	for _, entry := range selected {
		b.WriteString(entry.Timestamp)
		b.WriteByte(' ')
		b.WriteString(entry.Action)
		if entry.Details != "" {
			b.WriteByte(' ')
			b.WriteString(entry.Details)
		}
		for _, flag := range entry.Flags {
			b.WriteByte(' ')
			b.WriteString(flag)
		}
		b.WriteByte('\n')
	}

	summary, err := json.Marshal(session.Summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	signals, err := json.Marshal(session.Signals)
	if err != nil {
		return "", fmt.Errorf("marshal signals: %w", err)
	}
	fmt.Fprintf(&b, "\nSummary: %s\nSignals: %s\n", summary, signals)

	return b.String(), nil
}
