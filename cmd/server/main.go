package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/doclens/backend/internal/config"
	"github.com/doclens/backend/internal/health"
	"github.com/doclens/backend/internal/hub"
	"github.com/doclens/backend/internal/metrics"
	"github.com/doclens/backend/internal/orchestrator"
	"github.com/doclens/backend/internal/session"
	"github.com/doclens/backend/internal/stage"
	"github.com/doclens/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	store := session.NewStore()
	eventHub := hub.New(cfg.Hub.SendBuffer)
	m := metrics.New()

	retriever := stage.NewRetrievalClient(cfg.Retrieval.BaseURL, cfg.Retrieval.ProbeTimeout.Std())
	analyzer := stage.NewGeminiClient(
		cfg.Analyzer.BaseURL,
		cfg.Analyzer.Model,
		cfg.Analyzer.APIKey,
		cfg.Analyzer.Temperature,
		cfg.Analyzer.MaxOutputTokens,
		cfg.Analyzer.Timeout.Std(),
	)
	extractor := stage.NewTesseractExtractor(cfg.Extractor.Languages, cfg.Extractor.Timeout.Std())

	orch := orchestrator.New(store, eventHub, retriever, analyzer, m, orchestrator.Options{
		QueryK:       cfg.Retrieval.QueryK,
		HybridSearch: cfg.Retrieval.HybridSearch,
	})
	sweeper := orchestrator.NewSweeper(store, orch, cfg.Sweeper.Interval.Std(), cfg.Sweeper.Retention.Std())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Start(ctx)

	server := ws.NewServer(cfg, store, eventHub, orch, extractor, m, health.NewReporter())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Routes()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
