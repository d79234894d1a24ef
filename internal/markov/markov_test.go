package markov

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/sampling"
)

func TestBuild_NormalizesPerPrefix(t *testing.T) {
	table := Build([][]string{
		{"a", "b"},
		{"a", "b"},
		{"a", "c"},
		{"x", "y", "z"},
		{"lonely"},
	})

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 2, table.Order())

	got := table.Lookup([]string{"a"})
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Token)
	assert.InDelta(t, 2.0/3.0, got[0].Probability, 1e-12)
	assert.InDelta(t, 1.0/3.0, got[1].Probability, 1e-12)

	tri := table.Lookup([]string{"x", "y"})
	require.Len(t, tri, 1)
	assert.Equal(t, 1.0, tri[0].Probability)
}

func TestGenerate_FollowsChainToEnd(t *testing.T) {
	tokens := []string{"where", "is", "my", "order"}
	table := Build(append(corpus.NGrams(tokens, 2), corpus.NGrams(tokens, 3)...))

	words := Generate(table, sampling.NewRand(1), Options{MaxWords: 20})

	assert.Equal(t, tokens, words)
}

func TestGenerate_StopsAtMaxWords(t *testing.T) {
	// a self loop never reaches the end sentinel
	table := Build([][]string{
		{corpus.StartToken, "la"},
		{"la", "la"},
	})

	words := Generate(table, sampling.NewRand(2), Options{MaxWords: 7})

	assert.Len(t, words, 7)
}

func TestGenerate_NeverEmitsSentinels(t *testing.T) {
	var grams [][]string
	for _, s := range []string{"hi all", "hi there friend", "all good", "good morning all"} {
		toks := strings.Fields(s)
		grams = append(grams, corpus.NGrams(toks, 2)...)
		grams = append(grams, corpus.NGrams(toks, 3)...)
	}
	table := Build(grams)
	rng := sampling.NewRand(3)

	for i := 0; i < 200; i++ {
		words := Generate(table, rng, Options{
			MaxWords:    20,
			CommonWords: []string{corpus.StartToken, "all", corpus.EndToken},
		})
		require.LessOrEqual(t, len(words), 20)
		for _, w := range words {
			require.False(t, corpus.IsSentinel(w), "sentinel %q emitted", w)
		}
	}
}

func TestGenerate_ShortensPrefixBeforeCommonWords(t *testing.T) {
	// [START a] is unknown but [a] is known
	table := Build([][]string{
		{corpus.StartToken, "a"},
		{"x", "y", "z"},
		{"a", corpus.EndToken},
	})

	words := Generate(table, sampling.NewRand(4), Options{MaxWords: 5, CommonWords: []string{"zzz"}})

	assert.Equal(t, []string{"a"}, words)
}

func TestGenerate_FallbackPoolTakesPriority(t *testing.T) {
	table := Build([][]string{{"q", "r"}})

	words := Generate(table, sampling.NewRand(5), Options{MaxWords: 3, Fallback: []string{"pool"}})

	assert.Equal(t, []string{"pool", "pool", "pool"}, words)
}

func TestGenerate_CommonWordsWhenUnknown(t *testing.T) {
	table := Build([][]string{{"q", "r"}})

	words := Generate(table, sampling.NewRand(6), Options{MaxWords: 2, CommonWords: []string{"hey"}})

	assert.Equal(t, []string{"hey", "hey"}, words)
}

func TestGenerate_EmptyTableTerminates(t *testing.T) {
	words := Generate(Build(nil), sampling.NewRand(7), Options{MaxWords: 10})

	assert.Empty(t, words)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Привет всем", Capitalize([]string{"привет", "всем"}))
	assert.Equal(t, "Hello iphone", Capitalize([]string{"hello", "iPhone"}))
	assert.Equal(t, "Nasa says hi", Capitalize([]string{"NASA", "says", "HI"}))
	assert.Equal(t, "", Capitalize(nil))
}

func testMessages() []corpus.Message {
	return []corpus.Message{
		{ID: 1, UserID: "anna", ClusterID: 1, Tokens: []string{"good", "morning"}},
		{ID: 2, UserID: "boris", ClusterID: 1, Tokens: []string{"morning", "anna"}},
		{ID: 3, UserID: "anna", ClusterID: 1, Tokens: []string{"coffee", "time"}},
		{ID: 4, UserID: "boris", ClusterID: 2, Tokens: []string{"deploy", "is", "broken"}},
		{ID: 5, UserID: "boris", ClusterID: 2, Media: "photo"},
	}
}

func TestGenerator_StarterUsesOpeningMessages(t *testing.T) {
	g := NewGenerator(testMessages(), DefaultConfig())
	rng := sampling.NewRand(8)

	for i := 0; i < 20; i++ {
		text, err := g.Starter(rng, "anna")
		require.NoError(t, err)
		assert.Equal(t, "Good morning", text)
	}
}

func TestGenerator_StarterFallsBackToFullCorpus(t *testing.T) {
	msgs := []corpus.Message{
		{ID: 1, UserID: "anna", ClusterID: 1, Tokens: []string{"hi"}},
		{ID: 2, UserID: "carl", ClusterID: 1, Tokens: []string{"yo"}},
	}
	g := NewGenerator(msgs, DefaultConfig())

	text, err := g.Starter(sampling.NewRand(9), "carl")
	require.NoError(t, err)
	assert.Equal(t, "Yo", text)
}

func TestGenerator_ReplyUsesSimilarMessages(t *testing.T) {
	g := NewGenerator(testMessages(), DefaultConfig())

	text, err := g.Reply(sampling.NewRand(10), "anna", []int64{3})
	require.NoError(t, err)
	assert.Equal(t, "Coffee time", text)
}

func TestGenerator_ReplyFallsBackWithoutSimilar(t *testing.T) {
	g := NewGenerator(testMessages(), DefaultConfig())
	rng := sampling.NewRand(11)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		text, err := g.Reply(rng, "anna", nil)
		require.NoError(t, err)
		seen[text] = true
	}
	assert.True(t, seen["Good morning"])
	assert.True(t, seen["Coffee time"])
}

func TestGenerator_UnknownUser(t *testing.T) {
	g := NewGenerator(testMessages(), DefaultConfig())

	_, err := g.Starter(sampling.NewRand(12), "ghost")
	assert.ErrorIs(t, err, ErrNoCorpus)

	_, err = g.Reply(sampling.NewRand(12), "ghost", nil)
	assert.ErrorIs(t, err, ErrNoCorpus)

	assert.False(t, g.Has("ghost"))
	assert.Equal(t, []string{"anna", "boris"}, g.Users())
}

func TestGenerator_FailsAfterBoundedAttempts(t *testing.T) {
	g := NewGenerator(nil, DefaultConfig())
	_, err := g.generate(sampling.NewRand(13), "anna", [][]string{{corpus.StartToken, corpus.EndToken}}, nil)

	assert.ErrorIs(t, err, ErrGenerationFailed)

	_, err = g.generate(sampling.NewRand(13), "anna", nil, nil)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
