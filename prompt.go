package tutorgate

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the tutor persona used when TutorConfig.SystemPrompt is empty.
const DefaultSystemPrompt = `You are an expert AI tutor for an online learning platform. Your role is to help students learn effectively.

Guidelines:
- Be patient, encouraging and supportive
- Explain concepts clearly with examples
- Ask follow-up questions to check understanding
- Adapt explanations to the student's level
- Ground your answers in the retrieved course materials when they are relevant, and say so when they are not`

// NoContextText replaces the context block when no passage was retrieved.
const NoContextText = "No relevant course materials found."

// PromptBuilder assembles the provider prompt from the system prompt, the
// retrieved passages, the session history and the student message.
type PromptBuilder struct {
	SystemPrompt string
	// MaxContextTokens caps the context block; 0 means no cap. Passages that
	// do not fit are dropped lowest-ranked first.
	MaxContextTokens int
	// HistoryTurns caps the history included; 0 means every stored turn.
	HistoryTurns int
	Counter      *TokenCounter
}

// Build returns the prompt and the passages actually placed in it.
func (b PromptBuilder) Build(state SessionState, passages []Passage, message string) ([]Message, []Passage) {
	used := b.fit(passages)

	system := b.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	system += "\n\nRetrieved Course Materials:\n" + FormatContext(used)

	turns := state.Turns
	if b.HistoryTurns > 0 && len(turns) > b.HistoryTurns {
		turns = turns[len(turns)-b.HistoryTurns:]
	}

	msgs := make([]Message, 0, len(turns)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	for _, t := range turns {
		msgs = append(msgs, Message{Role: t.Role, Content: t.Text})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: message})

	return msgs, used
}

func (b PromptBuilder) fit(passages []Passage) []Passage {
	if b.MaxContextTokens <= 0 {
		return passages
	}

	budget := b.MaxContextTokens
	for i, p := range passages {
		cost := b.Counter.Count(formatSource(i+1, p))
		if cost > budget {
			return passages[:i]
		}
		budget -= cost
	}
	return passages
}

// FormatContext renders passages as numbered sources.
func FormatContext(passages []Passage) string {
	if len(passages) == 0 {
		return NoContextText
	}

	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = formatSource(i+1, p)
	}
	return strings.Join(parts, "\n")
}

func formatSource(n int, p Passage) string {
	return fmt.Sprintf("[Source %d]\n%s\n", n, p.Content)
}

// FormatHistory renders turns as "Student:" / "Tutor:" lines.
func FormatHistory(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			lines = append(lines, "Student: "+t.Text)
		case RoleAssistant:
			lines = append(lines, "Tutor: "+t.Text)
		}
	}
	return strings.Join(lines, "\n")
}
