package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	verifyWait     = 2 * time.Second
)

// Inbound events.
const (
	EventSubscribe        = "subscribe-to-url"
	EventUnsubscribe      = "unsubscribe-from-url"
	EventGetSubscriptions = "get-active-subscriptions"
)

// Acknowledgement events.
const (
	EventSubscribed          = "subscribed"
	EventUnsubscribed        = "unsubscribed"
	EventActiveSubscriptions = "active-subscriptions"
	EventError               = "error"
)

type urlRequest struct {
	URLID string `json:"urlId"`
}

type urlAck struct {
	URLID   string `json:"urlId"`
	Message string `json:"message"`
}

type subscriptionsAck struct {
	URLIDs []string `json:"urlIds"`
	Count  int      `json:"count"`
}

type errorAck struct {
	Message string `json:"message"`
}

// client pumps frames between one socket and its hub session.
type client struct {
	hub     *Hub
	access  AccessVerifier
	conn    *websocket.Conn
	session *Session
	logger  *zap.Logger
}

func newClient(hub *Hub, access AccessVerifier, conn *websocket.Conn, session *Session, logger *zap.Logger) *client {
	return &client{
		hub:     hub,
		access:  access,
		conn:    conn,
		session: session,
		logger:  logger.With(zap.String("connection_id", session.ID)),
	}
}

// run blocks until the socket closes.
func (c *client) run() {
	go c.writePump()
	c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.Disconnect(c.session.ID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Failed to set read deadline", zap.Error(err))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected websocket close", zap.Error(err))
			}
			return
		}
		c.dispatch(raw)
	}
}

func (c *client) dispatch(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reply(EventError, errorAck{Message: "Malformed frame"})
		return
	}

	switch frame.Event {
	case EventSubscribe:
		urlID, ok := c.urlID(frame.Data)
		if !ok {
			return
		}
		if !c.mayWatch(urlID) {
			c.reply(EventError, errorAck{Message: "Access denied"})
			return
		}
		if _, err := c.hub.Subscribe(c.session.ID, urlID); err != nil {
			c.replyErr(err)
			return
		}
		c.reply(EventSubscribed, urlAck{
			URLID:   urlID,
			Message: fmt.Sprintf("Subscribed to real-time updates for URL %s", urlID),
		})

	case EventUnsubscribe:
		urlID, ok := c.urlID(frame.Data)
		if !ok {
			return
		}
		if _, err := c.hub.Unsubscribe(c.session.ID, urlID); err != nil {
			c.replyErr(err)
			return
		}
		c.reply(EventUnsubscribed, urlAck{
			URLID:   urlID,
			Message: fmt.Sprintf("Unsubscribed from URL %s", urlID),
		})

	case EventGetSubscriptions:
		ids, err := c.hub.Subscriptions(c.session.ID)
		if err != nil {
			c.replyErr(err)
			return
		}
		c.reply(EventActiveSubscriptions, subscriptionsAck{URLIDs: ids, Count: len(ids)})

	default:
		c.reply(EventError, errorAck{Message: fmt.Sprintf("Unknown event %q", frame.Event)})
	}
}

// urlID extracts a non-empty urlId or answers with an error frame.
func (c *client) urlID(data json.RawMessage) (string, bool) {
	var req urlRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(EventError, errorAck{Message: "Malformed frame"})
			return "", false
		}
	}
	urlID := strings.TrimSpace(req.URLID)
	if urlID == "" {
		c.reply(EventError, errorAck{Message: "URL ID is required"})
		return "", false
	}
	return urlID, true
}

// mayWatch admits only identified owners of the resource.
func (c *client) mayWatch(urlID string) bool {
	if c.session.UserID == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), verifyWait)
	defer cancel()
	if c.access.VerifyAccess(ctx, c.session.UserID, urlID) {
		return true
	}
	c.logger.Debug("Realtime subscription denied",
		zap.String("user_id", c.session.UserID),
		zap.String("url_id", urlID))
	return false
}

func (c *client) replyErr(err error) {
	msg := "Request failed"
	if errors.Is(err, ErrInvalidRequest) {
		msg = "Client not found"
	}
	c.reply(EventError, errorAck{Message: msg})
}

func (c *client) reply(event string, data any) {
	if !c.hub.Send(c.session.ID, event, data) {
		c.logger.Debug("Dropped reply", zap.String("event", event))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	send := c.session.Outbound()
	for {
		select {
		case message, ok := <-send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Failed to write frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
