// Package gateway pushes live document snapshots to WebSocket subscribers.
// Clients subscribe to topics; document changes from the change feed reload
// the affected topics and fan them out.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/changefeed"
	"github.com/mcdev12/teamclicker/go/internal/models"
)

// Service is the push gateway that handles WebSocket connections and change fan-out
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
}

type Config struct {
	ConnectionConfig ConnectionConfig
	CacheConfig      CacheConfig
	JetStreamConfig  JetStreamConsumerConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		CacheConfig:      DefaultCacheConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

func NewService(config Config, snapshots SnapshotProvider) *Service {
	s := &Service{
		connectionManager: NewConnectionManager(config.ConnectionConfig, snapshots),
	}
	s.wsHandler = NewWebSocketHandler(s.connectionManager, s.GetStats)
	return s
}

// SetEventConsumer attaches the JetStream consumer started with the service
func (s *Service) SetEventConsumer(ec *EventConsumer) {
	s.eventConsumer = ec
}

// Start runs the gateway until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting clicker gateway service")

	go s.connectionManager.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("clicker gateway service stopped")
	return nil
}

// HandleChange refreshes every topic the change can affect
func (s *Service) HandleChange(ctx context.Context, change changefeed.Change) error {
	topics, err := TopicsFor(change)
	if err != nil {
		// redelivery cannot fix an unknown document
		log.Warn().Err(err).Str("change_id", change.ID.String()).Msg("ignoring change")
		return nil
	}
	if topics == nil {
		topics = s.connectionManager.ActiveTopics()
	}
	for _, topic := range topics {
		s.connectionManager.Refresh(topic)
	}
	return nil
}

// TopicsFor maps a change to the topics it touches; nil means all of them
func TopicsFor(change changefeed.Change) ([]Topic, error) {
	switch change.Collection {
	case changefeed.CollectionAll:
		return nil, nil
	case changefeed.CollectionScores:
		team, err := models.ParseTeam(change.DocID)
		if err != nil {
			return nil, fmt.Errorf("change for %q: %w", change.DocID, err)
		}
		return []Topic{ScoreTopic(team)}, nil
	case changefeed.CollectionUsers:
		return []Topic{TopicRecentUsers, UserTopic(models.UserID(change.DocID))}, nil
	default:
		return nil, fmt.Errorf("unknown collection %q", change.Collection)
	}
}

func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("clicker gateway routes registered")
}

// GetStats reports connections and, when attached, the consumer backlog
func (s *Service) GetStats(ctx context.Context) ConnectionStats {
	stats := s.connectionManager.GetConnectionStats()
	if s.eventConsumer == nil {
		return stats
	}
	consumer, err := s.eventConsumer.Stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read consumer stats")
		return stats
	}
	stats.Consumer = &consumer
	return stats
}
