package parser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/replicant/internal/pipeline"
)

func decode(t *testing.T, line string) Record {
	t.Helper()
	var r Record
	require.NoError(t, json.Unmarshal([]byte(line), &r))
	return r
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 30, 5, 0, time.UTC)

	for _, s := range []string{
		"2024-03-01T09:30:05",
		"2024-03-01 09:30:05",
		"2024-03-01T09:30:05.123+02:00",
	} {
		got, ok := ParseTimestamp(s)
		require.True(t, ok, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
	}

	_, ok := ParseTimestamp("yesterday")
	assert.False(t, ok)
	_, ok = ParseTimestamp("")
	assert.False(t, ok)
}

func TestRecord_Message(t *testing.T) {
	r := decode(t, `{"id": 42, "user_id": 1001, "user_name": "Anna", "timestamp": "2024-03-01T09:30:05",
		"text": "Is it on?", "tokens": ["is", "it", "on"], "lemmas": ["be", "it", "on"],
		"reply_to_message_id": 41}`)

	m, ok := r.Message(7)
	require.True(t, ok)
	assert.Equal(t, int64(42), m.ID)
	assert.Equal(t, "1001", m.UserID)
	assert.Equal(t, "Anna", m.UserName)
	assert.Equal(t, "Is it on?", m.Text)
	assert.Equal(t, []string{"be", "it", "on"}, m.Lemmas)
	assert.Equal(t, int64(41), m.ReplyTo)
}

func TestRecord_TelegramShape(t *testing.T) {
	r := decode(t, `{"from_id": "user5", "from": "Boris", "date": "2024-03-01T10:00:00",
		"text": ["see ", {"type": "link", "text": "example.org"}], "photo": "photos/1.jpg"}`)

	m, ok := r.Message(3)
	require.True(t, ok)
	assert.Equal(t, int64(-3), m.ID)
	assert.Equal(t, "user5", m.UserID)
	assert.Equal(t, "Boris", m.UserName)
	assert.Equal(t, "see example.org", m.Text)
	assert.Equal(t, []string{"see", "example.org"}, m.Tokens)
	assert.Equal(t, "photos/1.jpg", m.Media)
}

func TestRecord_SkipsIncomplete(t *testing.T) {
	for _, line := range []string{
		`{"user_id": "a", "text": "no time"}`,
		`{"user_id": "a", "timestamp": "2024-03-01T09:30:05"}`,
		`{"user_id": "a", "timestamp": "2024-03-01T09:30:05", "text": null}`,
		`{"timestamp": "2024-03-01T09:30:05", "text": "nobody"}`,
	} {
		r := decode(t, line)
		_, ok := r.Message(1)
		assert.False(t, ok, line)
	}
}

func TestParser_ReadMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	lines := `{"id": 1, "user_id": "a", "timestamp": "2024-03-01T09:05:00", "text": "second", "tokens": ["second"]}
{"id": 2, "user_id": "b", "timestamp": "2024-03-01T09:00:00", "text": "first", "tokens": ["first"]}
{"id": 3, "user_id": "a", "timestamp": "2024-03-01T09:10:00", "tokens": ["lost"]}
{"id": 4, "user_id": "b", "timestamp": "2024-03-01T09:05:00", "text": "tie", "tokens": ["tie"]}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	p, err := NewParser(nil)
	require.NoError(t, err)

	msgs, stats, err := p.ReadMessages(path)
	require.NoError(t, err)

	require.Len(t, msgs, 3)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(1), msgs[1].ID)
	assert.Equal(t, int64(4), msgs[2].ID)
	assert.Equal(t, 3, stats.Messages)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.Skipped)

	n, err := p.CountRecords(path)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestParser_ReadMessagesMixedIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	lines := `{"id": 2, "user_id": "a", "timestamp": "2024-03-01T09:00:00", "text": "with id"}
{"user_id": "b", "timestamp": "2024-03-01T09:01:00", "text": "without id"}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))

	p, err := NewParser(nil)
	require.NoError(t, err)

	msgs, stats, err := p.ReadMessages(path)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(-2), msgs[1].ID)
	assert.Equal(t, 0, stats.Skipped)

	kept, fstats := pipeline.NewFilter().Filter(msgs)
	assert.Len(t, kept, 2)
	assert.Equal(t, 0, fstats.Duplicates)
}
