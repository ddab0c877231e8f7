package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "plain text", Sanitize("plain text"))
	assert.Equal(t, `order\_id: 1\.5 \(vk\)\!`, Sanitize("order_id: 1.5 (vk)!"))
	assert.Equal(t, `\\\#\*`, Sanitize(`\#*`))
	assert.Equal(t, "Казань", Sanitize("Казань"))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	text := "line one\nline two\nline three"
	parts := splitMessage(text, 12)
	assert.Equal(t, []string{"line one\n", "line two\n", "line three"}, parts)
	assert.Equal(t, text, strings.Join(parts, ""))

	long := strings.Repeat("x", 25)
	parts = splitMessage(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestParseChatId(t *testing.T) {
	id, err := parseChatId("123456789")
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), id)

	id, err = parseChatId("-100200")
	require.NoError(t, err)
	assert.Equal(t, int64(-100200), id)

	_, err = parseChatId("0")
	assert.Error(t, err)
	_, err = parseChatId("@username")
	assert.Error(t, err)
}
