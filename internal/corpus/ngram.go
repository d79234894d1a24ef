package corpus

const (
	StartToken = "__START__"
	EndToken   = "__END__"
)

func IsSentinel(token string) bool {
	return token == StartToken || token == EndToken
}

// Wrap returns tokens framed by the start and end sentinels.
func Wrap(tokens []string) []string {
	wrapped := make([]string, 0, len(tokens)+2)
	wrapped = append(wrapped, StartToken)
	wrapped = append(wrapped, tokens...)
	wrapped = append(wrapped, EndToken)
	return wrapped
}

// NGrams returns every window of size n over the sentinel-wrapped tokens.
func NGrams(tokens []string, n int) [][]string {
	if n < 1 {
		return nil
	}
	wrapped := Wrap(tokens)
	if len(wrapped) < n {
		return nil
	}

	grams := make([][]string, 0, len(wrapped)-n+1)
	for i := 0; i+n <= len(wrapped); i++ {
		gram := make([]string, n)
		copy(gram, wrapped[i:i+n])
		grams = append(grams, gram)
	}
	return grams
}

// MessageNGrams returns the bigrams and trigrams of one message combined.
func MessageNGrams(m Message) [][]string {
	if len(m.Tokens) == 0 {
		return nil
	}
	grams := NGrams(m.Tokens, 2)
	return append(grams, NGrams(m.Tokens, 3)...)
}
