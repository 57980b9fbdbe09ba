package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/network-scout/internal/prompts"
)

type stubGenerator struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
}

func (s *stubGenerator) GenerateContent(_ context.Context, system, user string) (string, error) {
	s.lastSystem = system
	s.lastUser = user
	return s.response, s.err
}

type countingObserver struct {
	calls  map[string]int
	failed map[string]int
}

func (c *countingObserver) ObserveLLMCall(prompt string, err error) {
	if c.calls == nil {
		c.calls, c.failed = map[string]int{}, map[string]int{}
	}
	c.calls[prompt]++
	if err != nil {
		c.failed[prompt]++
	}
}

type inquireReply struct {
	Message string `json:"message"`
	Action  string `json:"action"`
}

type fitReply struct {
	FitScore int    `json:"fit_score"`
	Comments string `json:"comments"`
}

type gatheringReply struct {
	Message   string `json:"message"`
	Extracted struct {
		GithubUsername string   `json:"github_username"`
		Email          string   `json:"email"`
		Soft           []string `json:"soft"`
		Hard           []string `json:"hard"`
	} `json:"extracted"`
}

func newGateway(t *testing.T, gen Generator, opts ...Option) *Gateway {
	t.Helper()
	set, err := prompts.Default()
	require.NoError(t, err)
	return NewGateway(gen, set, zap.NewNop(), opts...)
}

func TestStructuredStripsCodeFence(t *testing.T) {
	stub := &stubGenerator{response: "```json\n{\"message\": \"tell me more\", \"action\": \"STAY\"}\n```"}
	gw := newGateway(t, stub)

	var out inquireReply
	require.NoError(t, gw.Structured(context.Background(), prompts.Inquire, map[string]string{"Message": "hi"}, &out))

	assert.Equal(t, "tell me more", out.Message)
	assert.Equal(t, "STAY", out.Action)
	assert.Contains(t, stub.lastSystem, "You are Nader")
	assert.Contains(t, stub.lastUser, "Their latest message: hi")
}

func TestStructuredWrapsRawTextForMessagePrompts(t *testing.T) {
	gw := newGateway(t, &stubGenerator{response: "hey, what are you building?"})

	var out struct {
		Message string `json:"message"`
	}
	require.NoError(t, gw.Structured(context.Background(), prompts.StayWarm, nil, &out))
	assert.Equal(t, "hey, what are you building?", out.Message)
}

func TestStructuredFindsObjectInsideProse(t *testing.T) {
	gw := newGateway(t, &stubGenerator{response: `Sure! {"fit_score": "85", "comments": "solid"} hope it helps`})

	var out fitReply
	require.NoError(t, gw.Structured(context.Background(), prompts.FitScore, nil, &out))
	assert.Equal(t, 85, out.FitScore)
	assert.Equal(t, "solid", out.Comments)
}

func TestStructuredRejectsSchemaViolations(t *testing.T) {
	obs := &countingObserver{}
	gw := newGateway(t, &stubGenerator{response: `{"message": "hi", "action": "maybe"}`}, WithObserver(obs))

	var out inquireReply
	err := gw.Structured(context.Background(), prompts.Inquire, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
	assert.Equal(t, 1, obs.failed[prompts.Inquire])
}

func TestStructuredRejectsMissingRequiredField(t *testing.T) {
	gw := newGateway(t, &stubGenerator{response: `{"comments": "no score"}`})

	var out fitReply
	err := gw.Structured(context.Background(), prompts.FitScore, nil, &out)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}

func TestStructuredTreatsNullLiteralsAsEmpty(t *testing.T) {
	gw := newGateway(t, &stubGenerator{response: `{"message": "nice", "extracted": {"github_username": "null", "email": "NULL", "soft": ["null", "curious"], "hard": "go"}}`})

	var out gatheringReply
	require.NoError(t, gw.Structured(context.Background(), prompts.Gathering, nil, &out))
	assert.Empty(t, out.Extracted.GithubUsername)
	assert.Empty(t, out.Extracted.Email)
	assert.Equal(t, []string{"", "curious"}, out.Extracted.Soft)
	assert.Equal(t, []string{"go"}, out.Extracted.Hard)
}

func TestGeneratorErrorIsNotMalformed(t *testing.T) {
	obs := &countingObserver{}
	boom := errors.New("boom")
	gw := newGateway(t, &stubGenerator{err: boom}, WithObserver(obs))

	var out inquireReply
	err := gw.Structured(context.Background(), prompts.Inquire, nil, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrMalformedOutput))
	assert.Equal(t, 1, obs.calls[prompts.Inquire])
}

func TestUnknownPrompt(t *testing.T) {
	gw := newGateway(t, &stubGenerator{response: "x"})
	_, err := gw.Text(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, prompts.ErrUnknownPrompt))
}

func TestGatewayLogsTruncatedPreviews(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	set, err := prompts.Default()
	require.NoError(t, err)

	gw := NewGateway(&stubGenerator{response: `{"message": "a very long answer indeed"}`}, set, zap.New(core), WithMaxLogLength(5))
	_, err = gw.Text(context.Background(), prompts.StayWarm, map[string]string{"Message": "hello"})
	require.NoError(t, err)

	entries := logs.FilterMessage("llm response").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, prompts.StayWarm, fields["ai_prompt"])
	assert.Equal(t, `{"mes...`, fields["response_preview"])
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}```":       "{}",
		"`{}`":             "{}",
		"  {}  ":           "{}",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripCodeFence(in), in)
	}
}

func TestIsNull(t *testing.T) {
	for _, s := range []string{"null", " NULL ", "None", ""} {
		assert.True(t, IsNull(s), s)
	}
	assert.False(t, IsNull("janedoe99"))
}
