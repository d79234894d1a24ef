package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/strrl/replicant/internal/corpus"
)

// Record is one line of a chat export. Telegram-style exports use from_id,
// from and text entity arrays; both shapes are accepted.
type Record struct {
	ID            flexString `json:"id"`
	UserID        flexString `json:"user_id"`
	FromID        flexString `json:"from_id"`
	UserName      string     `json:"user_name"`
	From          string     `json:"from"`
	Timestamp     string     `json:"timestamp"`
	Date          string     `json:"date"`
	Text          *flexText  `json:"text"`
	Tokens        []string   `json:"tokens"`
	Lemmas        []string   `json:"lemmas"`
	ForwardedFrom string     `json:"forwarded_from"`
	Media         string     `json:"media"`
	MediaType     string     `json:"media_type"`
	Photo         string     `json:"photo"`
	ReplyTo       flexString `json:"reply_to_message_id"`
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexText accepts a plain string or an array of strings and {"text": ...}
// entities, which are concatenated.
type flexText string

func (t *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*t = flexText(v)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	var sb strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			sb.WriteString(s)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err == nil {
			sb.WriteString(entity.Text)
		}
	}
	*t = flexText(sb.String())
	return nil
}

const timestampLayout = "2006-01-02T15:04:05"

// ParseTimestamp reads the first 19 characters as a local wall-clock time in
// UTC, accepting either a "T" or a space separator, and falls back to RFC 3339.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) >= len(timestampLayout) {
		head := strings.Replace(s[:len(timestampLayout)], " ", "T", 1)
		if ts, err := time.Parse(timestampLayout, head); err == nil {
			return ts, true
		}
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

// Message converts the record, reporting false when it lacks a timestamp or
// text. A record without an id gets -seq, which cannot collide with the
// positive ids of an export.
func (r *Record) Message(seq int64) (corpus.Message, bool) {
	raw := r.Timestamp
	if raw == "" {
		raw = r.Date
	}
	ts, ok := ParseTimestamp(raw)
	if !ok {
		return corpus.Message{}, false
	}

	if r.Text == nil {
		return corpus.Message{}, false
	}
	text := string(*r.Text)

	m := corpus.Message{
		ID:            -seq,
		UserID:        firstNonEmpty(string(r.UserID), string(r.FromID)),
		UserName:      firstNonEmpty(r.UserName, r.From),
		Timestamp:     ts,
		Text:          text,
		Tokens:        r.Tokens,
		Lemmas:        r.Lemmas,
		ForwardedFrom: r.ForwardedFrom,
		Media:         firstNonEmpty(r.Media, r.MediaType, r.Photo),
	}
	if m.UserID == "" {
		return corpus.Message{}, false
	}
	if id, err := strconv.ParseInt(string(r.ID), 10, 64); err == nil {
		m.ID = id
	}
	if reply, err := strconv.ParseInt(string(r.ReplyTo), 10, 64); err == nil {
		m.ReplyTo = reply
	}
	if m.Tokens == nil && text != "" {
		m.Tokens = corpus.Tokenize(text)
	}

	return m, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
