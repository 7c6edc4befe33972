package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jukebox/go/internal/audio"
	"github.com/mcdev12/jukebox/go/internal/room"
	"github.com/mcdev12/jukebox/go/internal/room/events"
	"github.com/mcdev12/jukebox/go/internal/room/gateway"
	"github.com/mcdev12/jukebox/go/internal/room/outbox"
	"github.com/mcdev12/jukebox/go/internal/segcache"
	"github.com/mcdev12/jukebox/go/internal/timesync"
)

type Services struct {
	RoomApp      *room.App
	Gateway      *gateway.Service
	OutboxWorker *outbox.Worker
	SegCache     *segcache.Cache
	Audio        *audio.Handler
	Time         *timesync.Handler
}

// deferredPublisher lets the room app be built before the connection manager
// it publishes through in direct mode.
type deferredPublisher struct {
	inner room.EventPublisher
}

func (p *deferredPublisher) Publish(ctx context.Context, evt events.RoomEvent) error {
	if p.inner == nil {
		return fmt.Errorf("publisher not wired yet")
	}
	return p.inner.Publish(ctx, evt)
}

func setupServices(ctx context.Context, config *Config) (*Services, func(), error) {
	// Wire up dependency injection chain
	// Store layer → App layer → Gateway layer

	cacheCfg, err := config.cacheConfig()
	if err != nil {
		return nil, nil, err
	}

	upstreamBase := config.Audio.UpstreamBaseURL
	if upstreamBase == "" {
		upstreamBase = getEnv("AUDIO_UPSTREAM_URL", "http://localhost:9000/segments")
	}
	resolver := audio.ResolverFunc(func(_ context.Context, hash string) (string, error) {
		return upstreamBase + "/" + hash, nil
	})
	segCache := segcache.New(audio.NewUpstreamFetcher(resolver, nil), clockwork.NewRealClock(), cacheCfg)

	services := &Services{
		SegCache: segCache,
		Audio:    audio.NewHandler(segCache),
		Time:     timesync.NewHandler(),
	}

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	directMode := getEnvAsBool("DIRECT_MODE", false)

	if directMode {
		// Single node: in-memory store, events fan out straight to the
		// connection manager without touching NATS or Postgres.
		publisher := &deferredPublisher{}
		services.RoomApp = room.NewApp(room.NewMemStore(), publisher)

		gatewayService, err := gateway.NewService(gateway.Config{
			ConnectionConfig: gateway.DefaultConnectionConfig(),
			DirectMode:       true,
		}, services.RoomApp)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gateway service: %w", err)
		}
		publisher.inner = gateway.NewDirectPublisher(gatewayService.ConnectionManager())
		services.Gateway = gatewayService

		return services, func() {}, nil
	}

	pool, err := setupPool(ctx)
	if err != nil {
		return nil, nil, err
	}
	db, err := setupDatabase()
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	cleanup := func() {
		db.Close()
		pool.Close()
	}

	// Commands stage their events in the outbox inside the same process
	// that mutates room state; the worker ships them to JetStream.
	outboxApp := outbox.NewApp(outbox.NewRepository(db))
	services.RoomApp = room.NewApp(room.NewRepository(pool), outboxApp)

	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = natsURL
	jsPublisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
	}
	cleanup = func() {
		if err := jsPublisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close JetStream publisher")
		}
		db.Close()
		pool.Close()
	}

	workerLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	services.OutboxWorker = outbox.NewWorker(db, jsPublisher, outbox.DefaultConfig(), workerLogger)

	consumerCfg := gateway.DefaultJetStreamConsumerConfig()
	consumerCfg.URL = natsURL
	gatewayService, err := gateway.NewService(gateway.Config{
		ConnectionConfig: gateway.DefaultConnectionConfig(),
		JetStreamConfig:  consumerCfg,
	}, services.RoomApp)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create gateway service: %w", err)
	}
	services.Gateway = gatewayService

	return services, cleanup, nil
}
