package analyzer

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionsieve/sessionsieve/internal/config"
	"github.com/sessionsieve/sessionsieve/internal/semantic"
)

type cannedCompleter struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (c *cannedCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.lastReq = req
	return c.resp, c.err
}

func analyzerConfig() config.AnalyzerConfig {
	cfg := config.Config{}
	cfg.ApplyDefaults()
	return cfg.Analyzer
}

func checkoutSession() semantic.Session {
	return semantic.Session{
		PageURL:       "https://app.example.com/checkout",
		PageTitle:     "Checkout",
		TotalDuration: "1m 5s",
		DurationMs:    65000,
		EventCount:    412,
		Viewport:      semantic.Viewport{Width: 1280, Height: 720},
		Logs: []semantic.LogEntry{
			{Timestamp: "[00:01]", RawTimestamp: 1000, Action: "Clicked 'Pay now'"},
			{Timestamp: "[00:03]", RawTimestamp: 3000, Action: "Clicked 'Pay now'", Details: "(5 times)", Flags: []string{semantic.FlagRageClick}},
			{Timestamp: "[00:04]", RawTimestamp: 4000, Action: "Console error", Details: "TypeError: undefined", Flags: []string{semantic.FlagConsoleError}},
		},
		Summary: semantic.Summary{TotalClicks: 6, RageClicks: 1, ConsoleErrors: 1},
		Signals: semantic.Signals{IsFrustrated: true},
	}
}

func TestAnalyzeSendsNarrativeAndReturnsContent(t *testing.T) {
	completer := &cannedCompleter{
		resp: openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "User rage-clicked a broken pay button."}},
			},
		},
	}
	a := NewWithClient(completer, analyzerConfig())

	finding, err := a.Analyze(context.Background(), checkoutSession())
	require.NoError(t, err)
	assert.Equal(t, "User rage-clicked a broken pay button.", finding)

	req := completer.lastReq
	assert.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)

	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "https://app.example.com/checkout")
	assert.Contains(t, prompt, "[00:03] Clicked 'Pay now' (5 times) "+semantic.FlagRageClick)
	assert.Contains(t, prompt, semantic.FlagConsoleError)
	assert.Contains(t, prompt, `"rageClicks":1`)
	assert.Contains(t, prompt, `"isFrustrated":true`)
}

func TestAnalyzeWrapsClientErrors(t *testing.T) {
	completer := &cannedCompleter{err: errors.New("rate limited")}
	a := NewWithClient(completer, analyzerConfig())

	_, err := a.Analyze(context.Background(), checkoutSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestAnalyzeRejectsEmptyResponse(t *testing.T) {
	completer := &cannedCompleter{}
	a := NewWithClient(completer, analyzerConfig())

	_, err := a.Analyze(context.Background(), checkoutSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestBuildContextBoundsNarrative(t *testing.T) {
	session := checkoutSession()
	for i := 0; i < 500; i++ {
		session.Logs = append(session.Logs, semantic.LogEntry{
			Timestamp:    "[01:00]",
			RawTimestamp: 60000 + int64(i),
			Action:       "Scrolled down",
		})
	}

	prompt, err := BuildContext(session, 10)
	require.NoError(t, err)

	// Selection keeps every flagged line even when trimming hard.
	assert.Contains(t, prompt, semantic.FlagRageClick)
	assert.Contains(t, prompt, semantic.FlagConsoleError)
	assert.Less(t, len(prompt), 4000)
}

func TestBuildContextEmptySession(t *testing.T) {
	prompt, err := BuildContext(semantic.Session{PageURL: "https://app.example.com/", TotalDuration: "0s"}, 150)
	require.NoError(t, err)
	assert.Contains(t, prompt, "(no user activity recorded)")
}
