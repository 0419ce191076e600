package channel

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gamedayhq/gameday/internal/stats"
	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket session. It translates the wire protocol into
// ChannelServer calls and pushes deliveries back over the socket.
type Client struct {
	conn     *websocket.Conn
	server   *ChannelServer
	log      *log.Logger
	user     types.User
	send     chan *ServerMessage
	subsLock sync.Mutex
	subs     map[string]func()
	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChannelServer, l *log.Logger) *Client {
	cs.stats.Incr(stats.ActiveConnections)

	return &Client{
		conn:   conn,
		server: cs,
		log:    l,
		user:   user,
		send:   make(chan *ServerMessage, 256),
		subs:   make(map[string]func()),
		stop:   make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.UserId = c.user.Id
		msg.Timestamp = temporal.Now()

		switch {
		case msg.Subscribe != nil:
			c.handleSubscribe(&msg)
		case msg.Unsubscribe != nil:
			c.handleUnsubscribe(&msg)
		case msg.Publish != nil:
			c.handlePublish(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

func (c *Client) handleSubscribe(msg *ClientMessage) {
	eventId := msg.Subscribe.EventId

	c.subsLock.Lock()
	if _, ok := c.subs[eventId]; ok {
		c.subsLock.Unlock()
		c.queueMessage(NoErrOK(msg.Id))
		return
	}
	c.subsLock.Unlock()

	unsub, err := c.server.Subscribe(eventId, Subscriber{
		OnMessages: func(msgs []types.Message) {
			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: temporal.Now()},
				EventId:     eventId,
				Messages:    msgs,
			})
		},
		OnError: func(err error) {
			if errors.Is(err, ErrEventNotFound) {
				c.dropSubscription(eventId)
				c.queueMessage(&ServerMessage{
					BaseMessage:  BaseMessage{Timestamp: temporal.Now()},
					Notification: &Notification{EventDeleted: &EventDeleted{EventId: eventId}},
				})
				return
			}
			c.queueMessage(ErrResponse(0, http.StatusInternalServerError, "delivery failed"))
		},
	})
	if err != nil {
		c.queueMessage(c.errToResponse(msg.Id, err))
		return
	}

	c.subsLock.Lock()
	c.subs[eventId] = unsub
	c.subsLock.Unlock()

	c.queueMessage(NoErrOK(msg.Id))
}

func (c *Client) handleUnsubscribe(msg *ClientMessage) {
	if !c.dropSubscription(msg.Unsubscribe.EventId) {
		c.queueMessage(ErrResponse(msg.Id, http.StatusNotFound, "not subscribed"))
		return
	}

	c.queueMessage(NoErrOK(msg.Id))
}

func (c *Client) handlePublish(msg *ClientMessage) {
	if _, err := c.server.Send(msg.Publish.EventId, c.user.Id, msg.Publish.Content); err != nil {
		c.queueMessage(c.errToResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrAccepted(msg.Id))
}

// dropSubscription detaches the client from an event's feed. Reports whether
// a subscription existed.
func (c *Client) dropSubscription(eventId string) bool {
	c.subsLock.Lock()
	unsub, ok := c.subs[eventId]
	if ok {
		delete(c.subs, eventId)
	}
	c.subsLock.Unlock()

	if ok {
		unsub()
	}
	return ok
}

func (c *Client) errToResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return ErrResponse(id, http.StatusNotFound, "event not found")
	case errors.Is(err, ErrUserNotFound):
		return ErrResponse(id, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrMessageNotFound):
		return ErrResponse(id, http.StatusNotFound, "message not found")
	case errors.Is(err, ErrEmptyContent):
		return ErrResponse(id, http.StatusBadRequest, "message content is empty")
	case errors.Is(err, ErrUnauthorized):
		return ErrResponse(id, http.StatusForbidden, "not allowed")
	default:
		return ErrResponse(id, http.StatusInternalServerError, "internal server error")
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) cleanup() {
	c.subsLock.Lock()
	unsubs := make([]func(), 0, len(c.subs))
	for _, unsub := range c.subs {
		unsubs = append(unsubs, unsub)
	}
	c.subs = make(map[string]func())
	c.subsLock.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	c.server.stats.Decr(stats.ActiveConnections)
	c.stopOnce.Do(func() { close(c.stop) })
}
