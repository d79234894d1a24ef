package corpus

import (
	"strings"
	"time"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeQuestion MessageType = "question"
	TypeMedia    MessageType = "media"
	TypeRepost   MessageType = "repost"
)

var ValidTypes = map[MessageType]string{
	TypeText:     "Plain text message",
	TypeQuestion: "Text message ending with a question mark",
	TypeMedia:    "Photo, video, document or audio attachment",
	TypeRepost:   "Message forwarded from another chat",
}

func (t MessageType) IsValid() bool {
	_, ok := ValidTypes[t]
	return ok
}

// Message is one ingested chat record. Values are never mutated after ingestion;
// ClusterID is set on the copies produced by clustering.
type Message struct {
	ID            int64
	UserID        string
	UserName      string
	Timestamp     time.Time
	Text          string
	Tokens        []string
	Lemmas        []string
	ForwardedFrom string
	Media         string
	ReplyTo       int64
	ClusterID     int
}

// Type classifies the message with priority repost > media > question > text.
func (m Message) Type() MessageType {
	switch {
	case m.ForwardedFrom != "":
		return TypeRepost
	case m.Media != "":
		return TypeMedia
	case strings.HasSuffix(strings.TrimSpace(m.Text), "?"):
		return TypeQuestion
	default:
		return TypeText
	}
}

func (m Message) DisplayName() string {
	if m.UserName != "" {
		return m.UserName
	}
	return m.UserID
}

// Words returns the lemmas used for similarity scoring, normalizing the text
// when no lemmas were supplied.
func (m Message) Words() []string {
	if len(m.Lemmas) > 0 {
		return m.Lemmas
	}
	return Normalize(m.Text)
}
