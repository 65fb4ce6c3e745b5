package changefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to ask consumers for a full refresh
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "clicker_changes",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
	}
}

type Listener struct {
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

func NewListener(publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

// Start relays notifications until ctx is done
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// the connection was re-established; anything sent meanwhile is lost
				if err := l.publishWithRetry(ctx, Resync(time.Now().UTC())); err != nil {
					log.Error().Err(err).Msg("failed to publish resync after reconnect")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.publishWithRetry(ctx, Resync(time.Now().UTC())); err != nil {
				log.Error().Err(err).Msg("failed to publish fallback resync")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification parses the notify payload and publishes it
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	change, err := ParseNotification(extra, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}
	if err := l.publishWithRetry(ctx, change); err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	log.Debug().
		Str("collection", change.Collection).
		Str("doc_id", change.DocID).
		Msg("relayed change")
	return nil
}

// publishWithRetry attempts to publish a change with a linear backoff and max retries.
func (l *Listener) publishWithRetry(ctx context.Context, change Change) error {
	return publishWithRetry(ctx, l.publisher, change, l.cfg.MaxRetries, l.cfg.RetryDelay)
}

func publishWithRetry(ctx context.Context, p Publisher, change Change, maxRetries int, retryDelay time.Duration) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := p.Publish(ctx, change); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("change_id", change.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("change_id", change.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", maxRetries+1, lastErr)
}
