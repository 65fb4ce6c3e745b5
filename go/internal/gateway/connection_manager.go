package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections and their topic subscriptions
type ConnectionManager struct {
	// Connection pools organized by topic
	topics      map[Topic]map[*Connection]bool
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader  websocket.Upgrader
	config    ConnectionConfig
	snapshots SnapshotProvider

	// All snapshot loads and sends go through this channel so each
	// subscriber sees a topic's snapshots in load order
	broadcastCh chan BroadcastMessage
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID       string
	ClientID string
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// guarded by Manager.mu
	topics map[Topic]bool
	closed bool

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	LoadTimeout  time.Duration
	// MaxMessageSize bounds client messages; a subscribe for the longest
	// username topic must fit
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage asks for a topic's snapshot to be pushed
type BroadcastMessage struct {
	Topic Topic
	// Target limits the push to one connection, used for the initial snapshot
	Target *Connection
	// Refresh drops the cached snapshot before loading
	Refresh bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		LoadTimeout:     5 * time.Second,
		MaxMessageSize:  8192,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, snapshots SnapshotProvider) *ConnectionManager {
	return &ConnectionManager{
		topics:      make(map[Topic]map[*Connection]bool),
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		snapshots:   snapshots,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast requests until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(ctx, message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, clientID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		topics:      make(map[Topic]bool),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("client_id", clientID).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true
}

// unregisterConnection removes a connection from every pool
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if conn.closed {
		return
	}
	conn.closed = true
	for topic := range conn.topics {
		cm.removeFromPoolLocked(topic, conn)
	}
	delete(cm.connections, conn)
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("client_id", conn.ClientID).
		Msg("connection unregistered")
}

// Subscribe adds conn to the topic pool and queues its initial snapshot
func (cm *ConnectionManager) Subscribe(conn *Connection, topic Topic) {
	cm.mu.Lock()
	if conn.closed {
		cm.mu.Unlock()
		return
	}
	if cm.topics[topic] == nil {
		cm.topics[topic] = make(map[*Connection]bool)
	}
	cm.topics[topic][conn] = true
	conn.topics[topic] = true
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("topic", string(topic)).
		Msg("subscribed")

	cm.enqueue(BroadcastMessage{Topic: topic, Target: conn})
}

// Unsubscribe removes conn from the topic pool
func (cm *ConnectionManager) Unsubscribe(conn *Connection, topic Topic) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !conn.topics[topic] {
		return
	}
	delete(conn.topics, topic)
	cm.removeFromPoolLocked(topic, conn)
}

func (cm *ConnectionManager) removeFromPoolLocked(topic Topic, conn *Connection) {
	pool, ok := cm.topics[topic]
	if !ok {
		return
	}
	delete(pool, conn)
	if len(pool) == 0 {
		delete(cm.topics, topic)
	}
}

// Refresh reloads a topic and pushes it to every subscriber
func (cm *ConnectionManager) Refresh(topic Topic) {
	cm.enqueue(BroadcastMessage{Topic: topic, Refresh: true})
}

// ActiveTopics lists topics with at least one subscriber
func (cm *ConnectionManager) ActiveTopics() []Topic {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]Topic, 0, len(cm.topics))
	for topic := range cm.topics {
		out = append(out, topic)
	}
	return out
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().Str("topic", string(message.Topic)).Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast loads the snapshot and pushes it to the targets
func (cm *ConnectionManager) handleBroadcast(ctx context.Context, message BroadcastMessage) {
	if message.Refresh {
		cm.snapshots.Invalidate(message.Topic)
	}

	cm.mu.RLock()
	var targets []*Connection
	if message.Target != nil {
		if message.Target.topics[message.Topic] {
			targets = append(targets, message.Target)
		}
	} else {
		for conn := range cm.topics[message.Topic] {
			targets = append(targets, conn)
		}
	}
	cm.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, cm.config.LoadTimeout)
	snap, err := cm.snapshots.Snapshot(loadCtx, message.Topic)
	cancel()

	var out Snapshot
	if err != nil {
		log.Error().Err(err).Str("topic", string(message.Topic)).Msg("failed to load snapshot")
		if message.Target == nil {
			return
		}
		out = Snapshot{Topic: message.Topic, Kind: KindError, Error: "snapshot unavailable"}
	} else {
		out = *snap
	}
	out.SentAt = time.Now().UTC()

	data, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal snapshot for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	for _, conn := range targets {
		if conn.closed {
			continue
		}
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("topic", string(message.Topic)).
		Int("connections", len(targets)).
		Msg("snapshot broadcasted")
}

// ConnectionStats summarises active connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveTopics     int            `json:"active_topics"`
	TopicConnections map[string]int `json:"topic_connections"`
	// Consumer is set when the gateway reads changes from JetStream
	Consumer *ConsumerStats `json:"consumer,omitempty"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveTopics:     len(cm.topics),
		TopicConnections: make(map[string]int, len(cm.topics)),
	}
	for topic, pool := range cm.topics {
		stats.TopicConnections[string(topic)] = len(pool)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage applies a subscribe or unsubscribe request
func (c *Connection) handleClientMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client message")
		return
	}

	topic, err := ParseTopic(msg.Topic)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring client message")
		return
	}

	switch msg.Action {
	case ActionSubscribe:
		c.Manager.Subscribe(c, topic)
	case ActionUnsubscribe:
		c.Manager.Unsubscribe(c, topic)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("action", msg.Action).
			Msg("unknown client action")
	}
}
