package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// chunkEnvelope is the OpenAI-compatible JSON object wrapping every
// client-visible event, including the terminator (§3, §6): the
// terminator is itself an envelope whose delta.content is the literal
// string "[DONE]", not the bare SSE "[DONE]" sentinel.
type chunkEnvelope struct {
	ID      string          `json:"id"`
	Object  string          `json:"object"`
	Created int64           `json:"created"`
	Choices []envelopeChoice `json:"choices"`
}

type envelopeChoice struct {
	Index int           `json:"index"`
	Delta envelopeDelta `json:"delta"`
}

type envelopeDelta struct {
	Content string `json:"content"`
}

// sseWriter serializes chunkEnvelopes as Server-Sent Events, flushing
// after every event so the client sees windows arrive in real time.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeWindow emits one window as a fresh chunk envelope.
func (s *sseWriter) writeWindow(content string) error {
	return s.writeEnvelope(content)
}

// writeTerminator emits the terminator envelope (§3): a chunk envelope
// whose delta.content is the literal string "[DONE]".
func (s *sseWriter) writeTerminator() error {
	return s.writeEnvelope("[DONE]")
}

func (s *sseWriter) writeEnvelope(content string) error {
	event := chunkEnvelope{
		ID:      uuid.NewString(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Choices: []envelopeChoice{
			{Index: 0, Delta: envelopeDelta{Content: content}},
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling chunk envelope: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("writing sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
