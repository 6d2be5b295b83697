package guardrailsvc

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the guardrail service's HTTP surface (§4.6): /safecheck and
// /safecheck_batch, both backed by the shared Aggregator.
type Server struct {
	router chi.Router
	agg    *Aggregator
}

// NewServer wires up the guardrail HTTP router. agg must already have
// been started via agg.Start().
func NewServer(agg *Aggregator) *Server {
	s := &Server{agg: agg}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/safecheck", s.handleSafecheck)
	r.Post("/safecheck_batch", s.handleSafecheckBatch)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type safecheckRequest struct {
	Text string `json:"text"`
}

type safecheckResponse struct {
	Result string `json:"result"`
}

// handleSafecheck implements POST /safecheck: enqueue one text, wait for
// its completion slot, return its verdict. Added latency is bounded by
// the aggregator's batch interval plus the model's batch time.
func (s *Server) handleSafecheck(w http.ResponseWriter, r *http.Request) {
	var req safecheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	result := <-s.agg.Enqueue(req.Text)
	if result.err != nil {
		log.Printf("safecheck failed: %v", result.err)
		writeError(w, http.StatusInternalServerError, result.err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(safecheckResponse{Result: result.verdict})
}

type safecheckBatchRequest struct {
	Texts []string `json:"texts"`
}

type safecheckBatchResponse struct {
	Results []string `json:"results"`
}

// handleSafecheckBatch implements POST /safecheck_batch: enqueue every
// text independently (so this request's items still get coalesced with
// other callers' items arriving in the same interval) and gather results
// in the original order.
func (s *Server) handleSafecheckBatch(w http.ResponseWriter, r *http.Request) {
	var req safecheckBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	channels := make([]<-chan jobResult, len(req.Texts))
	for i, text := range req.Texts {
		channels[i] = s.agg.Enqueue(text)
	}

	results := make([]string, len(req.Texts))
	errs := make([]error, len(req.Texts))

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch <-chan jobResult) {
			defer wg.Done()
			r := <-ch
			results[i] = r.verdict
			errs[i] = r.err
		}(i, ch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Printf("safecheck_batch failed: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(safecheckBatchResponse{Results: results})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
