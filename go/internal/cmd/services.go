package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/changefeed"
	"github.com/mcdev12/teamclicker/go/internal/dbconfig"
	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/gateway"
	"github.com/mcdev12/teamclicker/go/internal/scores"
)

type Services struct {
	Scores   *scores.Service
	Gateway  *gateway.Service
	Listener *changefeed.Listener

	closers []func()
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// setupServices wires Repository → App → Service, plus the change path from
// the store to the gateway.
//
//	postgres: triggers → pq listener → JetStream → gateway consumer
//	          (without NATS the listener feeds the gateway directly)
//	memory:   notifier decorator → gateway
func setupServices(ctx context.Context, config *Config) (*Services, error) {
	services := &Services{}

	repo, snapshotRepo, err := setupRepository(ctx, config, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	gwConfig := gateway.DefaultConfig()
	gwConfig.ConnectionConfig.SendBufferSize = config.Gateway.SendBufferSize
	gwConfig.ConnectionConfig.PingInterval = config.Gateway.PingInterval
	gwConfig.CacheConfig.TTL = config.Gateway.CacheTTL

	snapshots, err := gateway.NewCachedSnapshots(snapshotRepo, gwConfig.CacheConfig)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.closers = append(services.closers, snapshots.Close)
	services.Gateway = gateway.NewService(gwConfig, snapshots)

	var publisher changefeed.Publisher = changefeed.PublisherFunc(services.Gateway.HandleChange)

	if config.NATS.URL != "" {
		jsConfig := changefeed.DefaultJetStreamConfig()
		jsConfig.URL = config.NATS.URL

		jsPublisher, err := changefeed.NewJetStreamPublisher(ctx, jsConfig)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("create JetStream publisher: %w", err)
		}
		services.closers = append(services.closers, func() { jsPublisher.Close() })
		publisher = jsPublisher

		nc, err := changefeed.Connect(jsConfig)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.closers = append(services.closers, nc.Close)

		consumerConfig := gwConfig.JetStreamConfig
		consumerConfig.StreamName = jsConfig.StreamName
		consumerConfig.SubjectFilter = jsConfig.SubjectPrefix + ".>"
		consumer, err := gateway.NewEventConsumer(ctx, nc, services.Gateway, consumerConfig)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("create event consumer: %w", err)
		}
		services.Gateway.SetEventConsumer(consumer)
		log.Info().Str("url", config.NATS.URL).Msg("changes routed through JetStream")
	}

	switch config.Store {
	case StorePostgres:
		listenerConfig := changefeed.DefaultListenerConfig()
		listenerConfig.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()
		listenerConfig.NotifyChannel = docstore.NotifyChannel
		listenerConfig.FallbackInterval = config.Changefeed.FallbackInterval
		listenerConfig.PingInterval = config.Changefeed.PingInterval

		listener, err := changefeed.NewListener(publisher, listenerConfig)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("create change listener: %w", err)
		}
		services.Listener = listener
	case StoreMemory:
		repo = changefeed.NewNotifier(repo, publisher)
	}

	services.Scores = scores.NewService(scores.NewApp(repo))
	return services, nil
}

// setupRepository returns the repository writes go through and the one
// snapshots are read from
func setupRepository(ctx context.Context, config *Config, services *Services) (docstore.Repository, docstore.Repository, error) {
	if config.Store == StoreMemory {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		store := docstore.NewMemoryStore()
		return store, store, nil
	}

	pool, err := setupDatabase(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}
	services.closers = append(services.closers, pool.Close)

	store := docstore.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	return store, store, nil
}
