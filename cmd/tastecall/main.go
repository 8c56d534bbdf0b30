package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/tastecall/internal/calllog"
	"github.com/ent0n29/tastecall/internal/config"
	"github.com/ent0n29/tastecall/internal/httpapi"
	"github.com/ent0n29/tastecall/internal/monitor"
	"github.com/ent0n29/tastecall/internal/observability"
	"github.com/ent0n29/tastecall/internal/recommend"
	"github.com/ent0n29/tastecall/internal/relay"
	"github.com/ent0n29/tastecall/internal/session"
	"github.com/ent0n29/tastecall/internal/tools"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.OpenAIAPIKey == "" {
		log.Printf("OPENAI_API_KEY is not set; calls will be answered but the model will not connect")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcripts, err := calllog.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("transcript store init failed: %v", err)
	}
	defer transcripts.Close()
	log.Printf("transcript store: %s", transcripts.Mode())

	client := recommend.NewClient(recommend.Config{
		BaseURL: cfg.RecommendAPIURL,
		APIKey:  cfg.RecommendAPIKey,
	})
	if !client.Configured() {
		log.Printf("recommendation API not configured; function calls will report it as unavailable")
	}
	table, err := tools.NewTable(recommend.NewFunctions(client, cfg.RecommendTimeout).All()...)
	if err != nil {
		log.Fatalf("function table init failed: %v", err)
	}
	log.Printf("functions registered: %v", table.Names())

	registry := session.NewRegistry()
	registry.SetRemoveHook(func(key, reason string) {
		metrics.SessionEvents.WithLabelValues(reason).Inc()
		metrics.ActiveSessions.Set(float64(registry.Count()))
	})

	monitorChannel := monitor.NewChannel(metrics)
	rl := relay.New(relay.Config{
		Credentials:           session.Credentials{APIKey: cfg.OpenAIAPIKey},
		Voice:                 cfg.RealtimeVoice,
		Instructions:          cfg.RealtimeInstructions,
		TranscriptionModel:    cfg.RealtimeTranscriptionModel,
		Temperature:           cfg.RealtimeTemperature,
		MaxOutputTokens:       cfg.RealtimeMaxOutputTokens,
		ModelConnectDelay:     cfg.ModelConnectDelay,
		GreetingDelay:         cfg.GreetingDelay,
		SlowFunctionThreshold: cfg.SlowFunctionThreshold,
	}, registry, table, relay.WebsocketDialer{URL: cfg.RealtimeURL}, monitorChannel, transcripts, metrics)

	api := httpapi.New(cfg, rl, monitorChannel, table, transcripts, metrics)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	registry.StartSweeper(ctx, cfg.SweepInterval, func(removed []string) {
		if len(removed) > 0 {
			log.Printf("swept %d orphaned sessions: %v", len(removed), removed)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
			_ = httpServer.Close()
		}
		for _, key := range registry.Keys() {
			rl.Teardown(key, "shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}
	log.Printf("shutdown complete")
}
