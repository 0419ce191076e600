package channel

import (
	"net/http"

	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

type BaseMessage struct {
	Id        int              `json:"id,omitempty"`
	Timestamp temporal.Instant `json:"timestamp"`
}

// ClientMessage is the websocket frame sent by clients. Exactly one of the
// operation fields is set.
type ClientMessage struct {
	BaseMessage
	Subscribe   *Subscribe   `json:"subscribe,omitempty"`
	Unsubscribe *Unsubscribe `json:"unsubscribe,omitempty"`
	Publish     *Publish     `json:"publish,omitempty"`
	UserId      int          `json:"-"`
}

type Subscribe struct {
	EventId string `json:"event_id"`
}

type Unsubscribe struct {
	EventId string `json:"event_id"`
}

type Publish struct {
	EventId string `json:"event_id"`
	Content string `json:"content"`
}

// ServerMessage is the websocket frame sent to clients: a response to one of
// their operations, a full conversation delivery, or a notification.
type ServerMessage struct {
	BaseMessage
	Response     *Response       `json:"response,omitempty"`
	Messages     []types.Message `json:"messages,omitempty"`
	EventId      string          `json:"event_id,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Notification struct {
	EventDeleted *EventDeleted `json:"event_deleted,omitempty"`
}

type EventDeleted struct {
	EventId string `json:"event_id"`
}

func NoErrOK(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: temporal.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
		},
	}
}

func NoErrAccepted(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: temporal.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func ErrResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: temporal.Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: temporal.Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}
