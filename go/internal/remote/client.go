// Package remote connects a clicker engine to a clickerd server: writes go
// over connect RPC, watches over the gateway's document WebSocket.
package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcdev12/teamclicker/go/internal/gateway"
	"github.com/mcdev12/teamclicker/go/internal/models"
	"github.com/mcdev12/teamclicker/go/internal/scores"
)

var ErrClosed = errors.New("remote client closed")

type Config struct {
	// BaseURL is the server's http(s) address
	BaseURL      string
	HTTPClient   *http.Client
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// MinBackoff is the first reconnect delay after a short-lived socket;
	// it doubles up to MaxBackoff
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// StableAfter is how long a socket must stay up before the backoff resets
	StableAfter time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		HTTPClient:   http.DefaultClient,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   10 * time.Second,
		StableAfter:  5 * time.Second,
	}
}

// Client implements the engine's Remote against a clickerd server
type Client struct {
	rpc    *scores.Client
	wsURL  string
	dialer *websocket.Dialer
	cfg    Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	nextID int
	subs   map[gateway.Topic]map[int]func(gateway.Snapshot)
	last   map[gateway.Topic]gateway.Snapshot
	// connAt is when conn was dialed; backoff is the current reconnect delay
	connAt  time.Time
	backoff time.Duration

	writeMu sync.Mutex
}

func NewClient(cfg Config) *Client {
	def := DefaultConfig(cfg.BaseURL)
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = def.HTTPClient
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.MinBackoff)
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/docs"

	return &Client{
		rpc:    scores.NewClient(cfg.HTTPClient, base),
		wsURL:  wsURL,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		cfg:    cfg,
		subs:   make(map[gateway.Topic]map[int]func(gateway.Snapshot)),
		last:   make(map[gateway.Topic]gateway.Snapshot),
	}
}

func (c *Client) RecordClick(ctx context.Context, click models.Click) error {
	return c.rpc.RecordClick(ctx, click)
}

func (c *Client) PurchaseUpgrade(ctx context.Context, id models.UserID, expectedOwned int, price int64) error {
	return c.rpc.PurchaseUpgrade(ctx, id, expectedOwned, price)
}

func (c *Client) WatchTeamScore(ctx context.Context, team models.Team, fn func(models.TeamScore)) (func(), error) {
	if !team.Valid() {
		return nil, models.ErrInvalidTeam
	}
	return c.watch(ctx, gateway.ScoreTopic(team), func(s gateway.Snapshot) {
		if s.Score != nil {
			fn(*s.Score)
		}
	})
}

// WatchRecentUsers serves up to the gateway's fixed recent-users window
func (c *Client) WatchRecentUsers(ctx context.Context, limit int, fn func([]models.UserRecord)) (func(), error) {
	return c.watch(ctx, gateway.TopicRecentUsers, func(s gateway.Snapshot) {
		users := s.Users
		if limit > 0 && len(users) > limit {
			users = users[:limit]
		}
		fn(users)
	})
}

func (c *Client) WatchUser(ctx context.Context, id models.UserID, fn func(models.UserRecord, bool)) (func(), error) {
	return c.watch(ctx, gateway.UserTopic(id), func(s gateway.Snapshot) {
		if s.Exists && s.User != nil {
			fn(*s.User, true)
			return
		}
		fn(models.UserRecord{}, false)
	})
}

// Close drops the socket and every watch
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.subs = make(map[gateway.Topic]map[int]func(gateway.Snapshot))
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
