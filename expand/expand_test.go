package expand_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/expand"
)

type fakeCompleter struct {
	text   string
	err    error
	prompt []tutorgate.Message
}

func (f *fakeCompleter) Complete(_ context.Context, prompt []tutorgate.Message, _ tutorgate.Params) (tutorgate.Completion, error) {
	f.prompt = prompt
	if f.err != nil {
		return tutorgate.Completion{}, f.err
	}
	return tutorgate.Completion{Text: f.text}, nil
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []string
	}{
		{
			name: "plain lines",
			text: "what is recursion\nexplain recursive functions\nhow does recursion work",
			n:    3,
			want: []string{"what is recursion", "explain recursive functions", "how does recursion work"},
		},
		{
			name: "numbering and bullets stripped",
			text: "1. first\n2) second\n- third\n* fourth",
			n:    4,
			want: []string{"first", "second", "third", "fourth"},
		},
		{
			name: "blanks duplicates and original dropped",
			text: "\nRecursion?\nfirst\n\nFIRST\nsecond\n",
			n:    5,
			want: []string{"first", "second"},
		},
		{
			name: "capped at n",
			text: "a\nb\nc\nd",
			n:    2,
			want: []string{"a", "b"},
		},
		{
			name: "decimal numbers kept",
			text: "Python 3.12 features",
			n:    1,
			want: []string{"Python 3.12 features"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expand.Parse(tt.text, "recursion?", tt.n))
		})
	}
}

func TestExpand(t *testing.T) {
	fc := &fakeCompleter{text: "1. alt one\n2. alt two\n3. alt three"}
	e := expand.New(fc)

	got, err := e.Expand(context.Background(), "original", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"alt one", "alt two"}, got)

	require.Len(t, fc.prompt, 2)
	assert.Equal(t, tutorgate.RoleSystem, fc.prompt[0].Role)
	assert.Contains(t, fc.prompt[0].Content, "generate 2 different variations")
	assert.Equal(t, "Query: original", fc.prompt[1].Content)
}

func TestExpandErrors(t *testing.T) {
	boom := errors.New("boom")
	e := expand.New(&fakeCompleter{err: boom})

	_, err := e.Expand(context.Background(), "q", 3)
	assert.ErrorIs(t, err, boom)

	_, err = e.Expand(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, tutorgate.ErrInvalidInput)

	got, err := e.Expand(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}
