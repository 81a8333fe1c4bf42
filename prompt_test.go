package tutorgate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tg "github.com/ineyio/tutorgate"
)

func TestPromptBuilder_Build(t *testing.T) {
	b := tg.PromptBuilder{SystemPrompt: "You are a tutor.", HistoryTurns: 2}
	state := tg.SessionState{Turns: []tg.Turn{
		{Role: tg.RoleUser, Text: "old question"},
		{Role: tg.RoleAssistant, Text: "old answer"},
		{Role: tg.RoleUser, Text: "recent question"},
		{Role: tg.RoleAssistant, Text: "recent answer"},
	}}
	passages := []tg.Passage{{ID: "a", Content: "alpha"}, {ID: "b", Content: "beta"}}

	msgs, used := b.Build(state, passages, "new question")
	require.Len(t, msgs, 4)

	assert.Equal(t, tg.RoleSystem, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "You are a tutor.\n\nRetrieved Course Materials:\n"))
	assert.Contains(t, msgs[0].Content, "[Source 1]\nalpha\n")
	assert.Contains(t, msgs[0].Content, "[Source 2]\nbeta\n")

	assert.Equal(t, "recent question", msgs[1].Content)
	assert.Equal(t, tg.RoleAssistant, msgs[2].Role)
	assert.Equal(t, tg.Message{Role: tg.RoleUser, Content: "new question"}, msgs[3])
	assert.Len(t, used, 2)
}

func TestPromptBuilder_NoContext(t *testing.T) {
	msgs, used := tg.PromptBuilder{}.Build(tg.SessionState{}, nil, "q")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, tg.DefaultSystemPrompt)
	assert.Contains(t, msgs[0].Content, tg.NoContextText)
	assert.Empty(t, used)
}

func TestPromptBuilder_ContextBudgetDropsLowestRanked(t *testing.T) {
	passages := []tg.Passage{
		{ID: "best", Content: strings.Repeat("a", 40)},
		{ID: "mid", Content: strings.Repeat("b", 40)},
		{ID: "worst", Content: strings.Repeat("c", 40)},
	}
	// Without a codec each source costs len/4 tokens: 10 + header, about 14.
	b := tg.PromptBuilder{MaxContextTokens: 30}

	_, used := b.Build(tg.SessionState{}, passages, "q")
	assert.Equal(t, []string{"best", "mid"}, ids(used))
}

func TestFormatHistory(t *testing.T) {
	assert.Empty(t, tg.FormatHistory(nil))
	assert.Equal(t, "Student: hi\nTutor: hello", tg.FormatHistory([]tg.Turn{
		{Role: tg.RoleUser, Text: "hi"},
		{Role: tg.RoleAssistant, Text: "hello"},
	}))
}

func TestTokenCounter(t *testing.T) {
	tc, err := tg.NewTokenCounter()
	require.NoError(t, err)

	assert.Positive(t, tc.Count("How do closures capture variables?"))
	assert.Zero(t, tc.Count(""))

	var none *tg.TokenCounter
	assert.Equal(t, 3, none.Count("twelve chars"))

	msgs := []tg.Message{{Role: tg.RoleUser, Content: "twelve chars"}}
	assert.EqualValues(t, 3+4+3, tg.EstimateTokens(none, msgs))
}
