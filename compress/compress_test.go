package compress_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/tutorgate"
	"github.com/ineyio/tutorgate/compress"
)

// replyCompleter answers by the excerpt found in the prompt.
type replyCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   atomic.Int32
}

func (f *replyCompleter) Complete(_ context.Context, prompt []tutorgate.Message, _ tutorgate.Params) (tutorgate.Completion, error) {
	f.calls.Add(1)
	user := prompt[len(prompt)-1].Content
	_, excerpt, _ := strings.Cut(user, "Excerpt:\n")
	if err := f.errs[excerpt]; err != nil {
		return tutorgate.Completion{}, err
	}
	return tutorgate.Completion{Text: f.replies[excerpt]}, nil
}

func passage(id, content string) tutorgate.Passage {
	return tutorgate.Passage{ID: id, Content: content, Metadata: map[string]string{"source": id + ".md"}}
}

func TestCompress(t *testing.T) {
	f := &replyCompleter{
		replies: map[string]string{
			"A for loop repeats a block. Unrelated note about grading.": "A for loop repeats a block.",
			"Office hours are on Friday.":                               "NOT_RELEVANT",
			"Loop variables are scoped per iteration.":                  "  NOT_RELEVANT.  ",
			"Break exits the loop early.":                               "",
		},
		errs: map[string]error{
			"Continue skips to the next iteration.": errors.New("model overloaded"),
		},
	}
	in := []tutorgate.Passage{
		passage("a", "A for loop repeats a block. Unrelated note about grading."),
		passage("b", "Office hours are on Friday."),
		passage("c", "Loop variables are scoped per iteration."),
		passage("d", "Break exits the loop early."),
		passage("e", "Continue skips to the next iteration."),
	}

	got, err := compress.New(f, compress.WithParallel(2)).Compress(context.Background(), "how do loops work?", in)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "A for loop repeats a block.", got[0].Content)
	assert.Equal(t, "true", got[0].Metadata["compressed"])
	assert.Equal(t, "57", got[0].Metadata["original_length"])
	assert.Equal(t, "a.md", got[0].Metadata["source"])
	assert.Empty(t, in[0].Metadata["compressed"], "input metadata untouched")

	assert.Equal(t, "d", got[1].ID, "empty reply keeps the passage")
	assert.Equal(t, "Break exits the loop early.", got[1].Content)
	assert.Equal(t, "e", got[2].ID, "failed completion keeps the passage")
	assert.Equal(t, "Continue skips to the next iteration.", got[2].Content)

	assert.EqualValues(t, 5, f.calls.Load())
}

func TestCompress_NothingToDo(t *testing.T) {
	f := &replyCompleter{}
	c := compress.New(f)

	got, err := c.Compress(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	in := []tutorgate.Passage{passage("a", "x")}
	got, err = c.Compress(context.Background(), "  ", in)
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.Zero(t, f.calls.Load())
}

func TestCompress_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := compress.New(&replyCompleter{}).Compress(ctx, "q", []tutorgate.Passage{passage("a", "x")})
	assert.ErrorIs(t, err, context.Canceled)
}
