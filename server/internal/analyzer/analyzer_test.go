package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-sim/server/internal/llm"
	"junction-sim/server/internal/model"
)

var testObjectives = []model.Objective{
	{ID: "listen", Description: "Listen to the idea"},
	{ID: "acknowledge", Description: "Acknowledge the good part"},
}

func exchange() []model.Utterance {
	return []model.Utterance{
		{Seq: 1, Source: model.SourceCharacter, Text: "I have an amazing idea!"},
		{Seq: 2, Source: model.SourceUser, Text: "Tell me more, I'm listening."},
		{Seq: 3, Source: model.SourceCharacter, Text: "We gamify standups."},
	}
}

func newRequest() model.AnalysisRequest {
	return model.AnalysisRequest{
		RecentWindow:  exchange()[1:],
		FullWindow:    exchange(),
		Objectives:    testObjectives,
		CharacterName: "Alex",
	}
}

const validOutput = `{
  "objectives": [
    {"id": "listen", "completed": true, "reason": "user asked to hear more"},
    {"id": "acknowledge", "completed": false, "reason": "no praise yet"}
  ],
  "emotion": "happy",
  "emotionReason": "the user is interested"
}`

func TestAnalyzeReturnsJudgments(t *testing.T) {
	client := llm.NewMockClient(validOutput)
	a := New(client, Options{}, zerolog.Nop())

	res, err := a.Analyze(context.Background(), newRequest())
	require.NoError(t, err)
	assert.Equal(t, model.EmotionHappy, res.Emotion)
	assert.Equal(t, "the user is interested", res.EmotionReason)
	require.Len(t, res.Judgments, 2)
	assert.True(t, res.Judgments["listen"].Completed)
	assert.False(t, res.Judgments["acknowledge"].Completed)
}

func TestAnalyzePromptCarriesBothWindowsAndIDs(t *testing.T) {
	client := llm.NewMockClient(validOutput)
	a := New(client, Options{}, zerolog.Nop())

	_, err := a.Analyze(context.Background(), newRequest())
	require.NoError(t, err)

	msgs := client.LastMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	prompt := msgs[1].Content
	assert.Contains(t, prompt, "Character: Alex")
	assert.Contains(t, prompt, "Alex: I have an amazing idea!")
	assert.Contains(t, prompt, "User: Tell me more, I'm listening.")
	assert.Contains(t, prompt, `ID: "listen"`)
	assert.Contains(t, prompt, `ID: "acknowledge"`)
	assert.Contains(t, prompt, "Most recent exchange")
}

func TestAnalyzeRequiresObjectives(t *testing.T) {
	client := llm.NewMockClient(validOutput)
	a := New(client, Options{}, zerolog.Nop())

	req := newRequest()
	req.Objectives = nil
	_, err := a.Analyze(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoObjectives)
	assert.False(t, errors.Is(err, ErrAnalysisUnavailable))
	assert.Zero(t, client.CallCount())
}

func TestAnalyzeServiceFailureIsUnavailable(t *testing.T) {
	client := llm.NewMockClient()
	client.SetFail(true)
	a := New(client, Options{}, zerolog.Nop())

	_, err := a.Analyze(context.Background(), newRequest())
	require.ErrorIs(t, err, ErrAnalysisUnavailable)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "request", unavailable.Stage)
	assert.ErrorIs(t, err, llm.ErrMockFailure)
}

func TestAnalyzeTimeoutIsUnavailable(t *testing.T) {
	client := llm.NewMockClient(validOutput)
	client.Block = make(chan struct{})
	defer close(client.Block)
	a := New(client, Options{Timeout: 20 * time.Millisecond}, zerolog.Nop())

	_, err := a.Analyze(context.Background(), newRequest())
	require.ErrorIs(t, err, ErrAnalysisUnavailable)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "timeout", unavailable.Stage)
}

func TestAnalyzeMalformedOutputIsUnavailable(t *testing.T) {
	cases := map[string]string{
		"not json":          "sure! here you go",
		"missing emotion":   `{"objectives": [], "emotionReason": "x"}`,
		"missing reason":    `{"objectives": [], "emotion": "happy"}`,
		"missing array":     `{"emotion": "happy", "emotionReason": "x"}`,
		"bad emotion":       `{"objectives": [], "emotion": "ecstatic", "emotionReason": "x"}`,
		"talking emotion":   `{"objectives": [], "emotion": "talking", "emotionReason": "x"}`,
		"mistyped complete": `{"objectives": [{"id": "listen", "completed": "yes", "reason": "x"}], "emotion": "happy", "emotionReason": "x"}`,
		"missing completed": `{"objectives": [{"id": "listen", "reason": "x"}], "emotion": "happy", "emotionReason": "x"}`,
		"empty":             "",
	}
	for name, output := range cases {
		t.Run(name, func(t *testing.T) {
			a := New(llm.NewMockClient(output), Options{}, zerolog.Nop())
			_, err := a.Analyze(context.Background(), newRequest())
			assert.ErrorIs(t, err, ErrAnalysisUnavailable)
		})
	}
}

func TestAnalyzeDegradesEmotionWithoutExchange(t *testing.T) {
	a := New(llm.NewMockClient(validOutput), Options{}, zerolog.Nop())

	req := newRequest()
	req.RecentWindow = []model.Utterance{{Source: model.SourceCharacter, Text: "Hello?"}}
	res, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.EmotionNeutral, res.Emotion)
	assert.True(t, res.Judgments["listen"].Completed, "objective judgments still apply")
}

func TestParseResultReportsIDMismatch(t *testing.T) {
	output := "```json\n" + `{
  "objectives": [
    {"id": "listen", "completed": true, "reason": "a"},
    {"id": "listen", "completed": false, "reason": "dup"},
    {"id": "invented", "completed": true, "reason": "b"}
  ],
  "emotion": "MAD",
  "emotionReason": "c"
}` + "\n```"

	res, report, err := ParseResult(output, testObjectives)
	require.NoError(t, err)
	assert.Equal(t, model.EmotionMad, res.Emotion)
	assert.True(t, res.Judgments["listen"].Completed, "first duplicate wins")
	assert.Equal(t, []string{"invented"}, report.Unknown)
	assert.Equal(t, []string{"acknowledge"}, report.Missing)
	assert.Equal(t, []string{"listen"}, report.Duplicate)
}

func TestFromWireAndToWire(t *testing.T) {
	req := model.AnalyzeRequest{
		Messages: []model.WireMessage{
			{Source: "ai", Message: "Hi"},
			{Source: "user", Message: "Hey"},
			{Source: "user", Message: "  "},
			{Source: "ai", Message: "So?"},
		},
		Objectives:    []model.WireObjective{{ID: "acknowledge", Description: "b"}, {ID: "listen", Description: "a"}},
		CharacterName: "Alex",
	}

	ar, err := FromWire(req, 2, 40)
	require.NoError(t, err)
	assert.Len(t, ar.FullWindow, 3)
	require.Len(t, ar.RecentWindow, 2)
	assert.Equal(t, model.SourceUser, ar.RecentWindow[0].Source)
	assert.Equal(t, model.SourceCharacter, ar.RecentWindow[1].Source)

	res, _, err := ParseResult(validOutput, ar.Objectives)
	require.NoError(t, err)
	wire := ToWire(res, ar.Objectives)
	require.Len(t, wire.Objectives, 2)
	assert.Equal(t, "acknowledge", wire.Objectives[0].ID)
	assert.Equal(t, "listen", wire.Objectives[1].ID)

	_, err = FromWire(model.AnalyzeRequest{Objectives: []model.WireObjective{{Description: "no id"}}}, 3, 40)
	assert.Error(t, err)
}

func TestFromWireTreatsNonUserAsCharacter(t *testing.T) {
	req := model.AnalyzeRequest{
		Messages: []model.WireMessage{
			{Source: "assistant", Message: "Pitch me."},
			{Source: "user", Message: "We cut onboarding time in half."},
			{Source: "", Message: "Prove it."},
		},
		Objectives: []model.WireObjective{{ID: "pitch"}},
	}

	ar, err := FromWire(req, 3, 40)
	require.NoError(t, err)
	require.Len(t, ar.FullWindow, 3)
	assert.Equal(t, model.SourceCharacter, ar.FullWindow[0].Source)
	assert.Equal(t, model.SourceUser, ar.FullWindow[1].Source)
	assert.Equal(t, model.SourceCharacter, ar.FullWindow[2].Source)
}
