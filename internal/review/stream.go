package review

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reva/bridge/internal/action"
	"github.com/reva/bridge/internal/broker"
	"github.com/reva/bridge/internal/events"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second
	maxMsgSize = 4 * 1024
	sendBuffer = 256
)

// snapshot is the first frame on every stream: the pending set at connect
// time. Lifecycle events follow as events.Event frames.
type snapshot struct {
	Type    string           `json:"type"`
	Pending []action.Summary `json:"pending"`
}

type stream struct {
	broker   *broker.Broker
	bus      events.Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newStream(b *broker.Broker, bus events.Bus, allowedOrigins []string, logger *slog.Logger) *stream {
	return &stream{
		broker: b,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		logger: logger,
	}
}

// checkOrigin accepts the listed origins, or every origin when the list is
// empty.
func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// GET /ws/actions
func (s *stream) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &streamClient{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		reviewer: broker.ReviewerFrom(r.Context()),
		logger:   s.logger,
	}

	// Subscribe before the snapshot so nothing falls between the two.
	c.unsubscribe = s.bus.Subscribe(events.All, c.forward)

	first, err := json.Marshal(snapshot{Type: "snapshot", Pending: s.broker.ListPending()})
	if err == nil {
		c.enqueue(first)
	}

	s.logger.Info("review stream connected", "reviewer", c.reviewer)
	go c.writePump()
	go c.readPump()
}

type streamClient struct {
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	once        sync.Once
	unsubscribe func()
	reviewer    string
	logger      *slog.Logger
}

func (c *streamClient) forward(_ context.Context, ev *events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.enqueue(b)
	return nil
}

// enqueue never blocks; a reviewer too slow to drain the buffer misses
// events and can refetch the pending list.
func (c *streamClient) enqueue(msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("review stream buffer full, dropping event", "reviewer", c.reviewer)
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		c.conn.Close()
		c.logger.Info("review stream disconnected", "reviewer", c.reviewer)
	})
}

// writePump is the only goroutine writing to conn.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("review stream write failed", "reviewer", c.reviewer, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// readPump only drains control frames; reviewers act through the REST
// endpoints.
func (c *streamClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("review stream read failed", "reviewer", c.reviewer, "error", err)
			}
			return
		}
	}
}
