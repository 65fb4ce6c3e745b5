package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/docstore"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scoring"
)

// SnapshotProvider loads the current value of a topic
type SnapshotProvider interface {
	Snapshot(ctx context.Context, topic Topic) (*Snapshot, error)
	Invalidate(topic Topic)
}

type CacheConfig struct {
	NumCounters int64
	MaxCost     int64
	TTL         time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		NumCounters: 10_000,
		MaxCost:     1_000,
		TTL:         5 * time.Second,
	}
}

// CachedSnapshots reads snapshots from the repository behind a ristretto cache
type CachedSnapshots struct {
	repo  docstore.Repository
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachedSnapshots(repo docstore.Repository, cfg CacheConfig) (*CachedSnapshots, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost, // one unit per snapshot
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}

	log.Info().
		Int64("max_cost", cfg.MaxCost).
		Dur("ttl", cfg.TTL).
		Msg("snapshot cache initialized")

	return &CachedSnapshots{repo: repo, cache: cache, ttl: cfg.TTL}, nil
}

func (c *CachedSnapshots) Snapshot(ctx context.Context, topic Topic) (*Snapshot, error) {
	if v, ok := c.cache.Get(string(topic)); ok {
		return v.(*Snapshot), nil
	}

	snap, err := c.load(ctx, topic)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(string(topic), snap, 1, c.ttl)
	// make the entry visible to the next Get
	c.cache.Wait()
	return snap, nil
}

func (c *CachedSnapshots) Invalidate(topic Topic) {
	c.cache.Del(string(topic))
}

func (c *CachedSnapshots) Close() {
	c.cache.Close()
}

func (c *CachedSnapshots) load(ctx context.Context, topic Topic) (*Snapshot, error) {
	if team, ok := strings.CutPrefix(string(topic), "scores/"); ok {
		score, err := c.repo.GetTeamScore(ctx, models.Team(team))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", topic, err)
		}
		return &Snapshot{Topic: topic, Kind: KindScore, Score: &score, Exists: true}, nil
	}

	if topic == TopicRecentUsers {
		users, err := c.repo.RecentUsers(ctx, scoring.RecentUsersLimit)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", topic, err)
		}
		if users == nil {
			users = []models.UserRecord{}
		}
		return &Snapshot{Topic: topic, Kind: KindRecentUsers, Users: users, Exists: true}, nil
	}

	id, ok := strings.CutPrefix(string(topic), "users/")
	if !ok {
		return nil, fmt.Errorf("load %s: %w", topic, ErrUnknownTopic)
	}
	rec, err := c.repo.GetUser(ctx, models.UserID(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return &Snapshot{Topic: topic, Kind: KindUser}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", topic, err)
	}
	return &Snapshot{Topic: topic, Kind: KindUser, User: &rec, Exists: true}, nil
}
