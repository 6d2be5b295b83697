package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mira-okafor/guardstream/internal/safety"
	"github.com/mira-okafor/guardstream/internal/upstream"
)

// fixedGuardrail returns the same free-text verdict body for every
// request, regardless of what window was sent.
func fixedGuardrail(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": content}},
			},
		})
	}))
}

// sequencedGuardrail returns contents[i] for the i-th request received,
// then the last entry for any request beyond that.
func sequencedGuardrail(t *testing.T, contents []string) *httptest.Server {
	t.Helper()
	var n int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := n
		if idx >= len(contents) {
			idx = len(contents) - 1
		}
		n++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": contents[idx]}},
			},
		})
	}))
}

func failingGuardrail(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
}

func sseUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
}

func newTestServer(t *testing.T, upstreamSrv, guardrailSrv *httptest.Server, bufferSize int, flushInterval time.Duration) *Server {
	t.Helper()
	upClient := upstream.New(upstreamSrv.URL, "")
	classifier := safety.NewClassifier(guardrailSrv.URL, "llama-guard", "")

	srv, err := New(Config{
		APIKey:        "test-key",
		BufferSize:    bufferSize,
		FlushInterval: flushInterval,
	}, upClient, classifier, nil)
	require.NoError(t, err)
	return srv
}

func postChatCompletion(t *testing.T, srv *Server) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"x","messages":[]}`))
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

// extractDeltas parses an SSE body into the ordered list of delta.content
// strings across all emitted chunk envelopes.
func extractDeltas(t *testing.T, body string) []string {
	t.Helper()
	var deltas []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var env chunkEnvelope
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env))
		require.Len(t, env.Choices, 1)
		deltas = append(deltas, env.Choices[0].Delta.Content)
	}
	return deltas
}

func TestScenarioS1Passthrough(t *testing.T) {
	upstreamSrv := sseUpstream(t, "data: {\"choices\":[{\"delta\":{\"content\":\"hello world!\"}}]}\n\ndata: [DONE]\n\n")
	defer upstreamSrv.Close()
	guardrailSrv := fixedGuardrail(t, "\n\nsafe")
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 5, 0)
	w := postChatCompletion(t, srv)

	require.Equal(t, http.StatusOK, w.Code)
	deltas := extractDeltas(t, w.Body.String())
	assert.Equal(t, []string{"hello", " worl", "d!", "[DONE]"}, deltas)
}

func TestScenarioS2Annotate(t *testing.T) {
	upstreamSrv := sseUpstream(t, "data: {\"choices\":[{\"delta\":{\"content\":\"hello world!\"}}]}\n\ndata: [DONE]\n\n")
	defer upstreamSrv.Close()
	guardrailSrv := sequencedGuardrail(t, []string{"\n\nsafe", "\n\nunsafe\nS3", "\n\nsafe"})
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 5, 0)
	w := postChatCompletion(t, srv)

	require.Equal(t, http.StatusOK, w.Code)
	deltas := extractDeltas(t, w.Body.String())
	assert.Equal(t, []string{"hello", "[UNSAFE]  worl", "d!", "[DONE]"}, deltas)
}

func TestScenarioS3TimeFlush(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		flusher.Flush()
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstreamSrv.Close()
	guardrailSrv := fixedGuardrail(t, "\n\nsafe")
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 100, 200*time.Millisecond)
	w := postChatCompletion(t, srv)

	require.Equal(t, http.StatusOK, w.Code)
	deltas := extractDeltas(t, w.Body.String())
	assert.Equal(t, []string{"hi", "[DONE]"}, deltas)
}

func TestScenarioS4UpstreamAbort(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"abcde\"}}]}\n\n")
	}))
	defer upstreamSrv.Close()
	guardrailSrv := fixedGuardrail(t, "\n\nsafe")
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 5, 0)
	w := postChatCompletion(t, srv)

	require.Equal(t, http.StatusOK, w.Code)
	deltas := extractDeltas(t, w.Body.String())
	assert.Equal(t, []string{"abcde", "[DONE]"}, deltas)
}

func TestScenarioS5GuardrailDownFailsOpen(t *testing.T) {
	upstreamSrv := sseUpstream(t, "data: {\"choices\":[{\"delta\":{\"content\":\"danger\"}}]}\n\ndata: [DONE]\n\n")
	defer upstreamSrv.Close()
	guardrailSrv := failingGuardrail(t)
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 5, 0)
	w := postChatCompletion(t, srv)

	require.Equal(t, http.StatusOK, w.Code)
	deltas := extractDeltas(t, w.Body.String())
	assert.Equal(t, []string{"dange", "r", "[DONE]"}, deltas)
}

func TestRequireBearerTokenRejectsMissingAuth(t *testing.T) {
	upstreamSrv := sseUpstream(t, "data: [DONE]\n\n")
	defer upstreamSrv.Close()
	guardrailSrv := fixedGuardrail(t, "\n\nsafe")
	defer guardrailSrv.Close()

	srv := newTestServer(t, upstreamSrv, guardrailSrv, 5, 0)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
