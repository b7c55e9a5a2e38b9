package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"

	confconfig "github.com/confabhq/confab/config"
	"github.com/confabhq/confab/internal/adminapi"
	"github.com/confabhq/confab/internal/mediaworker"
	"github.com/confabhq/confab/internal/signal"
	"github.com/confabhq/confab/pkg/events"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWithOIDC[confconfig.SignalConfig](ctx)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if cfg.MediaProfilePath != "" {
		profile, err := confconfig.LoadMediaProfile(cfg.MediaProfilePath)
		if err != nil {
			log.Fatalf("loading media profile: %v", err)
		}
		profile.Apply(&cfg)
	}

	eventRef := cfg.GetEventsQueueName()
	eventURL := cfg.GetEventsQueueURL()

	ctx, srv := frame.NewService(
		frame.WithConfig(&cfg),
		frame.WithName("confab-signal"),
		frame.WithRegisterPublisher(eventRef, eventURL),
	)
	defer srv.Stop(ctx)

	pool, err := srv.WorkManager().GetPool()
	if err != nil {
		log.Fatalf("getting worker pool: %v", err)
	}

	worker, err := mediaworker.NewMediasoupWorker(mediaworker.Settings{
		RTCMinPort:             cfg.RTCMinPort,
		RTCMaxPort:             cfg.RTCMaxPort,
		ListenIP:               cfg.ListenIP,
		AnnouncedIP:            cfg.AnnouncedIP,
		InitialOutgoingBitrate: cfg.InitialOutgoingBitrate,
		LogLevel:               cfg.WorkerLogLevel,
		AudioLevelInterval:     cfg.AudioObserverIntervalMs,
		AudioLevelThreshold:    cfg.AudioObserverThreshold,
	})
	if err != nil {
		log.Fatalf("starting media worker: %v", err)
	}
	defer worker.Close()

	pub := events.NewPublisher(srv.QueueManager(), "confab-signal", eventRef)

	registry := signal.NewRegistry()
	dispatcher := signal.NewDispatcher(worker, registry, pool, pub)

	mux := http.NewServeMux()
	mux.Handle(cfg.SignalPath, signal.Handler(dispatcher))
	adminapi.NewHandler(registry).Register(mux)

	srv.Init(ctx, frame.WithHTTPHandler(mux))

	if err := srv.Run(ctx, fmt.Sprintf(":%d", cfg.SignalPort)); err != nil {
		log.Fatalf("service exited: %v", err)
	}
}
