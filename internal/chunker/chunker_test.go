package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paragraph = "Filesift walks a directory and extracts text from every file it understands. " +
	"The search pipeline then splits that text into chunks, embeds each chunk and builds an index.\n\n"

func TestSplitRespectsSize(t *testing.T) {
	c, err := New(Config{Size: 80, Overlap: 10})
	require.NoError(t, err)

	chunks, err := c.Split(strings.Repeat(paragraph, 4))
	require.NoError(t, err)
	require.Greater(t, len(chunks), 4)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), 80)
		assert.NotEmpty(t, ch)
	}
}

func TestSplitShortText(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	chunks, err := c.Split("short note")
	require.NoError(t, err)
	assert.Equal(t, []string{"short note"}, chunks)

	chunks, err = c.Split("")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Size: 10, Overlap: 10})
	assert.Error(t, err)
	_, err = New(Config{Size: 10, Length: "words"})
	assert.Error(t, err)
}

func TestTokenLength(t *testing.T) {
	c, err := New(Config{Size: 20, Overlap: 0, Length: "tokens"})
	require.NoError(t, err)

	count, err := tokenCounter("")
	require.NoError(t, err)

	chunks, err := c.Split(strings.Repeat(paragraph, 2))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		// Merged pieces are measured separately, so allow a little slack.
		assert.LessOrEqual(t, count(ch), 24)
	}
}
