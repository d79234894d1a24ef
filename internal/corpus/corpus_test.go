package corpus

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageType_Priority(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want MessageType
	}{
		{"plain", Message{Text: "hello"}, TypeText},
		{"question", Message{Text: "anyone here? "}, TypeQuestion},
		{"media beats question", Message{Text: "look?", Media: "photo"}, TypeMedia},
		{"repost beats media", Message{Media: "video", ForwardedFrom: "news"}, TypeRepost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.msg.Type()
			assert.Equal(t, tt.want, got)
			assert.True(t, got.IsValid())
		})
	}
	assert.False(t, MessageType("sticker").IsValid())
}

func TestMessage_DisplayName(t *testing.T) {
	assert.Equal(t, "Anna", Message{UserID: "u1", UserName: "Anna"}.DisplayName())
	assert.Equal(t, "u1", Message{UserID: "u1"}.DisplayName())
}

func TestMessage_WordsPrefersLemmas(t *testing.T) {
	m := Message{Text: "Cats ran", Lemmas: []string{"cat", "run"}}
	assert.Equal(t, []string{"cat", "run"}, m.Words())

	m.Lemmas = nil
	assert.Equal(t, []string{"cats", "ran"}, m.Words())
}

func TestNormalize(t *testing.T) {
	got := Normalize("Hello, WORLD!! 42 times... Ещё раз?")
	assert.Equal(t, []string{"hello", "world", "times", "ещё", "раз"}, got)
	assert.Empty(t, Normalize("  ...  "))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"a", "b,", "c"}, Tokenize(" a  b,\tc\n"))
}

func TestNGrams(t *testing.T) {
	got := NGrams([]string{"a", "b"}, 3)
	want := [][]string{
		{StartToken, "a", "b"},
		{"a", "b", EndToken},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NGrams mismatch (-want +got):\n%s", diff)
	}

	assert.Nil(t, NGrams(nil, 3))
	assert.Len(t, NGrams(nil, 2), 1)
	assert.Nil(t, NGrams([]string{"a"}, 0))
}

func TestMessageNGrams(t *testing.T) {
	grams := MessageNGrams(Message{Tokens: []string{"x", "y"}})
	// three bigrams and two trigrams
	require.Len(t, grams, 5)
	assert.Equal(t, []string{StartToken, "x"}, grams[0])
	assert.Equal(t, []string{"x", "y", EndToken}, grams[4])

	assert.Nil(t, MessageNGrams(Message{Media: "photo"}))
}

func TestSortMessages_StableOnTies(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: 1, Timestamp: ts.Add(time.Minute)},
		{ID: 2, Timestamp: ts},
		{ID: 3, Timestamp: ts},
	}

	SortMessages(msgs)

	ids := []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	assert.Equal(t, []int64{2, 3, 1}, ids)
}

func TestUsersAndByUser(t *testing.T) {
	msgs := []Message{{ID: 1, UserID: "b"}, {ID: 2, UserID: "a"}, {ID: 3, UserID: "b"}}

	assert.Equal(t, []string{"b", "a"}, Users(msgs))

	grouped := ByUser(msgs)
	require.Len(t, grouped["b"], 2)
	assert.Equal(t, int64(3), grouped["b"][1].ID)
}

func TestCommonWords(t *testing.T) {
	grams := [][]string{
		{StartToken, "hi", "all"},
		{"hi", "all", EndToken},
		{"hi", "there"},
	}

	assert.Equal(t, []string{"hi", "all"}, CommonWords(grams, 2))
	assert.Equal(t, []string{"hi", "all", "there"}, CommonWords(grams, 10))
}

func TestActivityHistogram(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{UserID: "a", Timestamp: day.Add(9*time.Hour + 5*time.Minute)},
		{UserID: "a", Timestamp: day.Add(9*time.Hour + 9*time.Minute)},
		{UserID: "a", Timestamp: day.Add(23*time.Hour + 55*time.Minute)},
	}

	hist := ActivityHistogram(msgs)

	assert.InDelta(t, 2.0/3.0, hist["a"][54], 1e-9)
	assert.InDelta(t, 1.0/3.0, hist["a"][SlotsPerDay-1], 1e-9)
	assert.Equal(t, 0.0, hist["a"][0])
}
