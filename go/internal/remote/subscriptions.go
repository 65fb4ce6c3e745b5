package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/teamclicker/go/internal/gateway"
)

// watch registers deliver for topic. The first watcher of a topic subscribes
// on the socket; later ones get the last snapshot straight away.
func (c *Client) watch(ctx context.Context, topic gateway.Topic, deliver func(gateway.Snapshot)) (func(), error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	pool := c.subs[topic]
	first := len(pool) == 0
	if pool == nil {
		pool = make(map[int]func(gateway.Snapshot))
		c.subs[topic] = pool
	}
	pool[id] = deliver
	last, hasLast := c.last[topic]
	c.mu.Unlock()

	if first {
		if err := c.send(conn, gateway.ActionSubscribe, topic); err != nil {
			c.unwatch(topic, id)
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	} else if hasLast {
		deliver(last)
	}

	return func() { c.unwatch(topic, id) }, nil
}

func (c *Client) unwatch(topic gateway.Topic, id int) {
	c.mu.Lock()
	pool, ok := c.subs[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(pool, id)
	if len(pool) > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.subs, topic)
	delete(c.last, topic)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.send(conn, gateway.ActionUnsubscribe, topic); err != nil {
			log.Debug().Err(err).Str("topic", string(topic)).Msg("failed to unsubscribe")
		}
	}
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	c.conn = conn
	c.connAt = time.Now()
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) send(conn *websocket.Conn, action string, topic gateway.Topic) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(gateway.ClientMessage{Action: action, Topic: string(topic)})
}

// readLoop dispatches snapshots in arrival order until the socket fails
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var snap gateway.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		if snap.Kind == gateway.KindError {
			log.Warn().Str("topic", string(snap.Topic)).Str("error", snap.Error).Msg("gateway could not load topic")
			continue
		}

		c.mu.Lock()
		pool := c.subs[snap.Topic]
		fns := make([]func(gateway.Snapshot), 0, len(pool))
		for _, fn := range pool {
			fns = append(fns, fn)
		}
		if len(pool) > 0 {
			c.last[snap.Topic] = snap
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(snap)
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	var delay time.Duration
	if time.Since(c.connAt) >= c.cfg.StableAfter {
		c.backoff = 0
	} else {
		delay = c.growBackoffLocked()
	}
	c.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	log.Warn().Err(err).Dur("delay", delay).Msg("document socket lost, reconnecting")
	go c.reconnect(delay)
}

// growBackoffLocked doubles the reconnect delay within the configured bounds
func (c *Client) growBackoffLocked() time.Duration {
	switch {
	case c.backoff <= 0:
		c.backoff = c.cfg.MinBackoff
	case c.backoff < c.cfg.MaxBackoff:
		c.backoff *= 2
	}
	if c.backoff > c.cfg.MaxBackoff {
		c.backoff = c.cfg.MaxBackoff
	}
	return c.backoff
}

// reconnect waits delay, then redials with growing backoff and resubscribes
// every topic. The backoff only resets once a socket has stayed up.
func (c *Client) reconnect(delay time.Duration) {
	for {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		conn, err := c.ensureConn(ctx)
		cancel()
		if err == ErrClosed {
			return
		}
		if err == nil {
			c.resubscribe(conn)
			log.Info().Msg("document socket reconnected")
			return
		}

		c.mu.Lock()
		delay = c.growBackoffLocked()
		c.mu.Unlock()
		log.Debug().Err(err).Dur("backoff", delay).Msg("reconnect failed")
	}
}

func (c *Client) resubscribe(conn *websocket.Conn) {
	c.mu.Lock()
	topics := make([]gateway.Topic, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.send(conn, gateway.ActionSubscribe, topic); err != nil {
			log.Error().Err(err).Str("topic", string(topic)).Msg("failed to resubscribe")
			return
		}
	}
}
