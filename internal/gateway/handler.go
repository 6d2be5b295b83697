package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mira-okafor/guardstream/internal/safety"
	"github.com/mira-okafor/guardstream/internal/upstream"
	"github.com/mira-okafor/guardstream/internal/window"
)

// interLinePause mirrors the source's cooperative 10ms pause between
// processed upstream lines (§4.4 step 4, §9). A goroutine-based
// scheduler doesn't need it for responsiveness, but the spec calls out
// preserving the behavior rather than silently dropping it; it also
// doubles as the cadence at which client-disconnect is noticed.
const interLinePause = 10 * time.Millisecond

// upstreamChunk is the subset of an upstream SSE payload the gateway
// reads: either the streaming delta or the non-streaming message
// fallback (§3).
type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c upstreamChunk) content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	if c.Choices[0].Delta.Content != "" {
		return c.Choices[0].Delta.Content
	}
	return c.Choices[0].Message.Content
}

// handleChatCompletions implements POST /v1/chat/completions: the
// gateway request handler state machine of §4.4.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}

	body, err := forceStreaming(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	lines, err := s.upstream.Stream(ctx, body, upstream.DefaultRetries)
	if err != nil {
		log.Printf("upstream connect failed: %v", err)
		writeJSONError(w, http.StatusBadGateway, "upstream unavailable: "+err.Error())
		if s.metrics != nil {
			s.metrics.StreamsTotal.WithLabelValues("connect_error").Inc()
		}
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()
	}

	outcome := s.run(ctx, lines, sse)
	if s.metrics != nil {
		s.metrics.StreamsTotal.WithLabelValues(outcome).Inc()
	}
}

// run drives the STREAMING → FINALIZING/ABORTED → DONE state machine
// over one upstream line channel, returning an outcome label for
// metrics ("completed", "aborted", "upstream_error").
func (s *Server) run(ctx context.Context, lines <-chan upstream.Line, sse *sseWriter) string {
	buf := window.New(s.bufferSize, s.flushInterval)

	for {
		select {
		case <-ctx.Done():
			// Client disconnect: abort, drop pending state, no terminator.
			return "aborted"

		case line, ok := <-lines:
			if !ok {
				// Upstream closed without a "data: [DONE]" line (§7 mid-stream
				// failure / §8 S4): finalize and terminate, no retry.
				s.finalize(ctx, buf, sse)
				return "completed"
			}

			if line.Err != nil {
				log.Printf("upstream stream error: %v", line.Err)
				s.finalize(ctx, buf, sse)
				return "upstream_error"
			}

			done := s.processLine(ctx, line.Text, buf, sse)
			if done {
				return "completed"
			}
		}

		time.Sleep(interLinePause)
	}
}

// processLine implements §4.4's per-line processing rules. Returns true
// when the "[DONE]" line has been handled and the terminator emitted.
func (s *Server) processLine(ctx context.Context, raw string, buf *window.Buffer, sse *sseWriter) bool {
	line := strings.TrimRight(raw, " \t\r\n")
	if line == "" {
		s.maybeTimeFlush(ctx, buf, sse)
		return false
	}

	const prefix = "data: "
	if !strings.HasPrefix(line, prefix) {
		s.maybeTimeFlush(ctx, buf, sse)
		return false
	}

	suffix := line[len(prefix):]
	if suffix == "[DONE]" {
		s.finalize(ctx, buf, sse)
		return true
	}

	var chunk upstreamChunk
	if err := json.Unmarshal([]byte(suffix), &chunk); err != nil {
		log.Printf("malformed upstream json line, skipping: %v", err)
		s.maybeTimeFlush(ctx, buf, sse)
		return false
	}

	if text := chunk.content(); text != "" {
		buf.Add(text)
		for {
			full, ok := buf.Next()
			if !ok {
				break
			}
			s.classifyAndEmit(ctx, full, sse)
		}
	}

	s.maybeTimeFlush(ctx, buf, sse)
	return false
}

func (s *Server) maybeTimeFlush(ctx context.Context, buf *window.Buffer, sse *sseWriter) {
	if !buf.DueForTimeFlush() {
		return
	}
	if remainder := buf.Flush(); remainder != "" {
		s.classifyAndEmit(ctx, remainder, sse)
	}
}

// finalize implements the FINALIZING state: flush any remainder, classify
// and emit it, then emit the terminator exactly once.
func (s *Server) finalize(ctx context.Context, buf *window.Buffer, sse *sseWriter) {
	if remainder := buf.Flush(); remainder != "" {
		s.classifyAndEmit(ctx, remainder, sse)
	}
	if err := sse.writeTerminator(); err != nil {
		log.Printf("writing terminator: %v", err)
	}
}

// classifyAndEmit checks the verdict cache, classifies on a miss, then
// writes the window (annotated if unsafe) to the client.
func (s *Server) classifyAndEmit(ctx context.Context, text string, sse *sseWriter) {
	verdict, cached := s.cache.get(ctx, text)
	if !cached {
		start := time.Now()
		verdict = string(s.classifier.Classify(ctx, text))
		if s.metrics != nil {
			s.metrics.ClassifyLatency.Observe(time.Since(start).Seconds())
		}
		s.cache.set(ctx, text, verdict)
	}

	content := text
	if verdict == string(safety.Unsafe) {
		content = "[UNSAFE] " + text
		if s.metrics != nil {
			s.metrics.WindowsFlagged.Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.WindowsEmitted.Inc()
	}

	if err := sse.writeWindow(content); err != nil {
		log.Printf("writing window chunk: %v", err)
	}
}

// forceStreaming re-marshals the client body with "stream" forced to
// true (§3: "the gateway forces streaming to upstream regardless"),
// leaving every other field untouched.
func forceStreaming(raw []byte) ([]byte, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decoding client body: %w", err)
	}
	generic["stream"] = true

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(generic); err != nil {
		return nil, fmt.Errorf("re-encoding client body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
