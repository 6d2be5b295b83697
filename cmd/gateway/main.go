// Command gateway runs the streaming safety-filtering proxy: it accepts
// chat-completions requests, streams the configured upstream generator,
// and annotates unsafe windows using the guardrail service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mira-okafor/guardstream/internal/config"
	"github.com/mira-okafor/guardstream/internal/gateway"
	"github.com/mira-okafor/guardstream/internal/metrics"
	"github.com/mira-okafor/guardstream/internal/safety"
	"github.com/mira-okafor/guardstream/internal/upstream"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	upstreamClient := upstream.New(cfg.VLLMServerURL, cfg.VLLMAPIKey)
	classifier := safety.NewClassifier(cfg.SafetyServiceURL, cfg.SafetyModel, cfg.SafetyAPIKey)
	gwMetrics := metrics.NewGateway(prometheus.DefaultRegisterer)
	upstreamClient.OnRetry(gwMetrics.UpstreamRetries.Inc)

	srv, err := gateway.New(gateway.Config{
		APIKey:        cfg.APIKey,
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
		RedisURL:      cfg.RedisURL,
		VerdictTTL:    cfg.VerdictCacheTTL,
	}, upstreamClient, classifier, gwMetrics)
	if err != nil {
		log.Fatalf("failed to build gateway server: %v", err)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv,
		// No WriteTimeout: generations stream for as long as the upstream
		// generator runs (§5, no read timeout on the upstream side either).
		ReadTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("gateway listening on :%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("shutting down gateway")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
