package hub

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

// WebSocket timing and size limits shared by hub and clients.
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Envelope is the wire frame for server-to-client events.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type hubMessageType int

const (
	msgRegister hubMessageType = iota
	msgUnregister
	msgJoinRoom
	msgLeaveRoom
	msgEmitRoom
	msgEmitUser
)

type hubMessage struct {
	kind      hubMessageType
	client    *Client
	sessionID string
	userID    uint
	frame     []byte
}

// Hub owns the connection registry and delivers events to every live
// connection of a session. All registry mutations and broadcasts flow
// through one channel consumed by a single Run loop, so deliveries for
// one session happen in the order they were enqueued — which, because
// services enqueue while holding the session lock, is store commit
// order. The core only ever sees the Broadcaster interface.
type Hub struct {
	messageChan chan hubMessage

	// Owned exclusively by the Run loop.
	rooms map[string]map[*Client]bool
	users map[uint]map[*Client]bool
}

// NewHub creates a Hub. Run must be started on its own goroutine.
func NewHub() *Hub {
	return &Hub{
		messageChan: make(chan hubMessage, 512),
		rooms:       make(map[string]map[*Client]bool),
		users:       make(map[uint]map[*Client]bool),
	}
}

// Run is the hub's event loop. It exits when Stop closes the channel.
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running")

	for msg := range h.messageChan {
		switch msg.kind {
		case msgRegister:
			h.registerClient(msg.client)
		case msgUnregister:
			h.unregisterClient(msg.client)
		case msgJoinRoom:
			h.addToRoom(msg.client, msg.sessionID)
		case msgLeaveRoom:
			h.removeFromRoom(msg.client, msg.sessionID)
		case msgEmitRoom:
			h.deliverToRoom(msg.sessionID, msg.frame)
		case msgEmitUser:
			h.deliverToUser(msg.userID, msg.frame)
		}
	}
	log.Info("Hub is shutting down")
}

// Stop closes the hub's channel, ending the Run loop.
func (h *Hub) Stop() {
	close(h.messageChan)
}

// --- Broadcaster implementation (used by the services) ---

// EmitToRoom queues an event for every connection of the session.
// Non-blocking: when the hub is saturated the event is dropped and
// logged rather than stalling the mutating call.
func (h *Hub) EmitToRoom(sessionID string, event string, payload interface{}) {
	frame, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Hub: failed to marshal event")
		return
	}
	h.queue(hubMessage{kind: msgEmitRoom, sessionID: sessionID, frame: frame})
}

// EmitToUser queues an event for every connection of one user,
// typically an error report.
func (h *Hub) EmitToUser(userID uint, event string, payload interface{}) {
	frame, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Hub: failed to marshal event")
		return
	}
	h.queue(hubMessage{kind: msgEmitUser, userID: userID, frame: frame})
}

// --- Registry entry points (used by clients) ---

// Register announces a new connection.
func (h *Hub) Register(c *Client) { h.queue(hubMessage{kind: msgRegister, client: c}) }

// Unregister removes a connection from every index and closes its send
// channel.
func (h *Hub) Unregister(c *Client) { h.queue(hubMessage{kind: msgUnregister, client: c}) }

// JoinRoom places a connection into a session's broadcast group.
func (h *Hub) JoinRoom(c *Client, sessionID string) {
	h.queue(hubMessage{kind: msgJoinRoom, client: c, sessionID: sessionID})
}

// LeaveRoom removes a connection from a session's broadcast group.
func (h *Hub) LeaveRoom(c *Client, sessionID string) {
	h.queue(hubMessage{kind: msgLeaveRoom, client: c, sessionID: sessionID})
}

func (h *Hub) queue(msg hubMessage) {
	select {
	case h.messageChan <- msg:
	default:
		logrus.WithField("kind", int(msg.kind)).Warn("Hub message channel full, dropping message")
	}
}

// --- Run-loop internals ---

func (h *Hub) registerClient(c *Client) {
	if c == nil {
		return
	}
	if _, ok := h.users[c.userID]; !ok {
		h.users[c.userID] = make(map[*Client]bool)
	}
	h.users[c.userID][c] = true
	logrus.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.connID}).Info("Client registered to Hub")
}

func (h *Hub) unregisterClient(c *Client) {
	if c == nil {
		return
	}
	// Detach from every room before closing the send channel, or a
	// later room delivery would write to a closed channel.
	for sid, clients := range h.rooms {
		if clients[c] {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, sid)
			}
		}
	}
	if conns, ok := h.users[c.userID]; ok {
		if conns[c] {
			delete(conns, c)
			close(c.send)
		}
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	logrus.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.connID}).Info("Client unregistered from Hub")
}

func (h *Hub) addToRoom(c *Client, sessionID string) {
	if c == nil || sessionID == "" {
		return
	}
	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][c] = true
}

func (h *Hub) removeFromRoom(c *Client, sessionID string) {
	clients, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.rooms, sessionID)
	}
}

// deliverToRoom pushes the frame into each member's buffered channel.
// A saturated client is skipped so one slow reader cannot delay the
// room.
func (h *Hub) deliverToRoom(sessionID string, frame []byte) {
	clients := h.rooms[sessionID]
	if len(clients) == 0 {
		return
	}
	for c := range clients {
		select {
		case c.send <- frame:
		default:
			logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": c.userID}).
				Warn("Client send channel full during broadcast, skipping")
		}
	}
}

func (h *Hub) deliverToUser(userID uint, frame []byte) {
	for c := range h.users[userID] {
		select {
		case c.send <- frame:
		default:
			logrus.WithField("user_id", userID).Warn("Client send channel full during direct emit, skipping")
		}
	}
}
