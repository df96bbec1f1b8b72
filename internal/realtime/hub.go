package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"farm-automation/internal/eventbus"
	"farm-automation/internal/logging"
	"farm-automation/internal/metrics"
	"farm-automation/internal/models"
)

// AllFarms is the group that receives every farm's messages.
const AllFarms = "*"

const (
	maxConnectionsPerGroup = 10
	defaultWriteWait       = 5 * time.Second
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// client serializes writes to one connection.
type client struct {
	conn Conn
	mu   sync.Mutex
}

func (c *client) write(message []byte, wait time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Message is the envelope pushed to dashboard clients.
type Message struct {
	Type      string    `json:"type"`
	FarmID    string    `json:"farmId,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub keeps websocket connections grouped by farm id.
type Hub struct {
	mu          sync.Mutex
	connections map[string]map[Conn]*client
	upgrader    websocket.Upgrader
	writeWait   time.Duration
	log         *logrus.Entry
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[Conn]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		writeWait: defaultWriteWait,
		log:       logger.WithComponent("realtime-hub"),
	}
}

func groupOf(farmID string) string {
	if farmID == "" {
		return AllFarms
	}
	return farmID
}

// AddConnection registers conn under farmID. It returns false when the group
// is full.
func (h *Hub) AddConnection(farmID string, conn Conn) bool {
	group := groupOf(farmID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.connections[group]; !exists {
		h.connections[group] = make(map[Conn]*client)
	}
	if len(h.connections[group]) >= maxConnectionsPerGroup {
		h.log.Warnf("Max connections reached for farm %s", group)
		return false
	}
	h.connections[group][conn] = &client{conn: conn}
	metrics.WebsocketConnections.Inc()
	h.log.Infof("Added WebSocket connection for farm %s (total: %d)", group, len(h.connections[group]))
	return true
}

func (h *Hub) RemoveConnection(farmID string, conn Conn) {
	group := groupOf(farmID)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(group, conn)
}

func (h *Hub) removeLocked(group string, conn Conn) {
	conns, exists := h.connections[group]
	if _, ok := conns[conn]; !exists || !ok {
		return
	}
	delete(conns, conn)
	metrics.WebsocketConnections.Dec()
	if len(conns) == 0 {
		delete(h.connections, group)
	}
	h.log.Infof("Removed WebSocket connection for farm %s (remaining: %d)", group, len(conns))
}

// Count returns the number of connections in a group.
func (h *Hub) Count(farmID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections[groupOf(farmID)])
}

type target struct {
	group  string
	client *client
}

// Broadcast sends message to the farm's group and to AllFarms. Writes happen
// outside the hub lock and each one is bounded by the write deadline.
// Connections that fail to write are dropped.
func (h *Hub) Broadcast(farmID string, message []byte) int {
	groups := []string{AllFarms}
	if farmID != "" && farmID != AllFarms {
		groups = append(groups, farmID)
	}

	h.mu.Lock()
	var targets []target
	for _, group := range groups {
		for _, c := range h.connections[group] {
			targets = append(targets, target{group: group, client: c})
		}
	}
	h.mu.Unlock()

	delivered := 0
	for _, t := range targets {
		if err := t.client.write(message, h.writeWait); err != nil {
			h.log.Errorf("Failed to send WebSocket message to farm %s: %v", t.group, err)
			_ = t.client.conn.Close()
			h.RemoveConnection(t.group, t.client.conn)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) publish(msgType, farmID string, data any) error {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		FarmID:    farmID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msgType, err)
	}
	h.Broadcast(farmID, payload)
	return nil
}

// ServeWS upgrades the request and keeps the connection registered until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, farmID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	if !h.AddConnection(farmID, conn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.RemoveConnection(farmID, conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Subscribe forwards alert and automation events to connected clients.
func (h *Hub) Subscribe(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.AlertCreated) error {
			return h.publishAlert(evt.Topic(), evt.Alert)
		}),
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.AlertNotified) error {
			return h.publishAlert(evt.Topic(), evt.Alert)
		}),
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.AlertUpdated) error {
			return h.publishAlert(evt.Topic(), evt.Alert)
		}),
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.AlertBroadcast) error {
			return h.publishAlert(evt.Topic(), evt.Alert)
		}),
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.TaskCompleted) error {
			return h.publish(string(evt.Topic()), evt.Task.Metadata.FarmID, evt)
		}),
		eventbus.On(bus, "realtime-hub", func(ctx context.Context, evt eventbus.TaskFailed) error {
			return h.publish(string(evt.Topic()), evt.Task.Metadata.FarmID, evt)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (h *Hub) publishAlert(topic eventbus.Topic, alert models.Alert) error {
	return h.publish(string(topic), alert.FarmID, alert)
}
