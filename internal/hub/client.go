package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"emotion-comfort/internal/domain"
	"emotion-comfort/internal/service"
)

// opTimeout bounds each store round-trip triggered by a client event.
const opTimeout = 5 * time.Second

// Client is one live websocket connection. It parses the incoming
// event stream at the transport boundary and drives the LiveService;
// raw connection handles never cross into the core.
type Client struct {
	hub    *Hub
	live   *service.LiveService
	conn   *websocket.Conn
	connID string
	userID uint
	send   chan []byte

	mu        sync.Mutex
	sessionID string
}

// NewClient creates a Client for an upgraded connection.
func NewClient(hub *Hub, live *service.LiveService, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		hub:    hub,
		live:   live,
		conn:   conn,
		connID: uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Run starts the read and write pumps.
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// UserID returns the authenticated user behind the connection.
func (c *Client) UserID() uint { return c.userID }

// SessionID returns the session this connection has joined, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

// ReadPump pumps events from the connection into the engine. Teardown
// treats a dropped connection exactly like an explicit leave.
func (c *Client) ReadPump() {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.connID})
	defer func() {
		if sid := c.SessionID(); sid != "" {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			if err := c.live.Leave(ctx, sid, c.userID); err != nil {
				logCtx.WithError(err).Warn("Leave on disconnect failed")
			}
			cancel()
		}
		c.hub.Unregister(c)
		c.conn.Close()
		logCtx.Info("readPump exited, client unregistered")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev, err := domain.ParseClientEvent(raw)
		if err != nil {
			logCtx.WithError(err).Warn("Rejected malformed client event")
			c.sendEvent(service.EventError, service.ErrorPayload{Message: "잘못된 요청입니다"})
			continue
		}
		c.handleEvent(ev, logCtx)
	}
}

// handleEvent dispatches one validated client event.
func (c *Client) handleEvent(ev domain.ClientEvent, logCtx *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch ev.Kind {
	case domain.EventJoin:
		// Enter the broadcast group first so the join signal reaches
		// this connection too; roll back if the join is refused.
		c.hub.JoinRoom(c, ev.SessionID)
		if _, err := c.live.Join(ctx, ev.SessionID, c.userID); err != nil {
			c.hub.LeaveRoom(c, ev.SessionID)
			c.sendEvent(service.EventError, service.ErrorPayload{Message: userErrorMessage(err)})
			return
		}
		c.setSessionID(ev.SessionID)

	case domain.EventShareEmotion:
		if err := c.live.PostMessage(ctx, ev.SessionID, c.userID, domain.MessageEmotion, ev.Emotion); err != nil {
			c.sendEvent(service.EventError, service.ErrorPayload{Message: userErrorMessage(err)})
		}

	case domain.EventSendComfort:
		if err := c.live.PostMessage(ctx, ev.SessionID, c.userID, domain.MessageComfort, ev.Message); err != nil {
			c.sendEvent(service.EventError, service.ErrorPayload{Message: userErrorMessage(err)})
		}

	case domain.EventQuickReaction:
		c.live.QuickReaction(ev.SessionID, ev.Reaction)

	case domain.EventLeave:
		sid := c.SessionID()
		if sid == "" {
			return
		}
		if err := c.live.Leave(ctx, sid, c.userID); err != nil {
			c.sendEvent(service.EventError, service.ErrorPayload{Message: userErrorMessage(err)})
			return
		}
		c.hub.LeaveRoom(c, sid)
		c.setSessionID("")

	default:
		logCtx.Warnf("Unhandled event kind %q", ev.Kind)
	}
}

// sendEvent queues a frame to this connection only.
func (c *Client) sendEvent(event string, payload interface{}) {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
		logrus.WithField("user_id", c.userID).Warn("Client send channel full, dropping direct event")
	}
}

// WritePump pumps frames from the send channel to the connection and
// keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.connID}).Info("writePump exited")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logrus.WithFields(logrus.Fields{"user_id": c.userID, "conn_id": c.connID}).
					WithError(err).Warn("Failed to write frame to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseConn closes the raw connection; used when registration fails.
func (c *Client) CloseConn() { c.conn.Close() }

// userErrorMessage maps engine errors to the messages clients show.
func userErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return "세션을 찾을 수 없습니다"
	case errors.Is(err, service.ErrSessionFull):
		return "세션이 가득 찼습니다"
	case errors.Is(err, service.ErrSessionEnded):
		return "세션이 종료되었습니다"
	case errors.Is(err, service.ErrNotParticipant):
		return "세션에 참여한 후 이용해 주세요"
	default:
		return "요청을 처리하지 못했습니다"
	}
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Type: event, Payload: payload})
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Failed to marshal envelope")
		return nil, err
	}
	return frame, nil
}
