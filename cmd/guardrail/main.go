// Command guardrail runs the batch classification service: it loads the
// guardrail model, starts the batch aggregator, and serves /safecheck
// and /safecheck_batch over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mira-okafor/guardstream/internal/config"
	"github.com/mira-okafor/guardstream/internal/guardrailsvc"
	"github.com/mira-okafor/guardstream/internal/guardrailsvc/onnxmodel"
	"github.com/mira-okafor/guardstream/internal/metrics"
)

func main() {
	cfg, err := config.LoadGuardrail()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	modelPath := envOrDefault("GUARDRAIL_MODEL_PATH", "models/llama-guard/model.onnx")
	tokenizerPath := envOrDefault("GUARDRAIL_TOKENIZER_PATH", "models/llama-guard/tokenizer.json")

	log.Printf("loading guardrail model %q from %s", cfg.ModelName, modelPath)
	model, err := onnxmodel.Load(onnxmodel.Config{
		ModelPath:     modelPath,
		TokenizerPath: tokenizerPath,
		EOSTokenID:    2,
	})
	if err != nil {
		log.Fatalf("failed to load guardrail model: %v", err)
	}
	defer model.Close()

	agg := guardrailsvc.NewAggregator(model, cfg.BatchInterval)
	agg.SetMetrics(metrics.NewGuardrail(prometheus.DefaultRegisterer, agg.QueueDepthFloat))
	agg.Start()
	defer agg.Stop()

	srv := guardrailsvc.NewServer(agg)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("guardrail service listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("shutting down guardrail service")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
