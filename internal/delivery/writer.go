// Package delivery hands simulated events to their destination.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/strrl/replicant/internal/simulator"
)

type Format string

const (
	FormatText  Format = "text"
	FormatJSONL Format = "jsonl"
)

// WriterSink writes one line per event. It is safe for concurrent use, so
// several rooms may share it.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	enc    *json.Encoder
}

func NewWriterSink(w io.Writer, format Format) (*WriterSink, error) {
	s := &WriterSink{w: w, format: format}
	switch format {
	case FormatText:
	case FormatJSONL:
		s.enc = json.NewEncoder(w)
		s.enc.SetEscapeHTML(false)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return s, nil
}

func (s *WriterSink) Deliver(_ context.Context, ev simulator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == FormatJSONL {
		if err := s.enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	}

	name := ev.Name
	if name == "" {
		name = ev.From
	}
	var err error
	if ev.Room != "" {
		_, err = fmt.Fprintf(s.w, "[%s] %s: %s\n", ev.Room, name, ev.Message)
	} else {
		_, err = fmt.Fprintf(s.w, "%s: %s\n", name, ev.Message)
	}
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}
