// Package channel owns per-event conversation streams: message persistence,
// permission-gated mutation and live fan-out of the complete re-sorted
// message list to subscribers.
package channel

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/stats"
	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

// RoleLookup resolves a user's role on an event. Satisfied by the
// participation ledger; the channel never reads participation records
// directly.
type RoleLookup interface {
	RoleOf(eventId string, userId int) types.Role
}

// Subscriber receives conversation updates. OnMessages is called with the
// complete, freshly sorted message list on every change; OnError reports
// feed interruptions without stopping delivery.
type Subscriber struct {
	OnMessages func(msgs []types.Message)
	OnError    func(err error)
}

type ChannelServer struct {
	log      *log.Logger
	db       database.GamedayRepository
	roles    RoleLookup
	stats    stats.StatsProvider
	lock     sync.Mutex
	channels map[string]*Channel
	stopped  bool
}

func NewChannelServer(logger *log.Logger, db database.GamedayRepository, roles RoleLookup, sp stats.StatsProvider) *ChannelServer {
	return &ChannelServer{
		log:      logger,
		db:       db,
		roles:    roles,
		stats:    sp,
		channels: make(map[string]*Channel),
	}
}

// Subscribe opens a live feed on the event's conversation. The returned
// handle detaches the subscriber and is idempotent.
func (cs *ChannelServer) Subscribe(eventId string, sub Subscriber) (func(), error) {
	ch, err := cs.channelFor(eventId)
	if err != nil {
		return nil, err
	}

	id := ch.addSubscriber(sub)
	ch.requestDeliver()

	var once sync.Once
	return func() {
		once.Do(func() {
			ch.removeSubscriber(id)
		})
	}, nil
}

// Send validates, persists and fans out a new message. The from_organizer
// flag is stamped at write time as a display fallback only; deliveries
// recompute it from the ledger.
func (cs *ChannelServer) Send(eventId string, authorId int, content string) (types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return types.Message{}, ErrEmptyContent
	}

	event, err := cs.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrEventNotFound
		}
		return types.Message{}, fmt.Errorf("get event: %w", err)
	}

	author, err := cs.db.GetAccountById(authorId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Message{}, ErrUserNotFound
		}
		return types.Message{}, fmt.Errorf("get account: %w", err)
	}

	role := cs.roles.RoleOf(eventId, authorId)
	if role != types.RoleOrganizer && role != types.RoleParticipant {
		return types.Message{}, ErrUnauthorized
	}

	now := temporal.Now()
	created, err := cs.db.CreateMessage(database.Message{
		EventId:       event.Id,
		UserId:        authorId,
		Content:       content,
		FromOrganizer: role == types.RoleOrganizer,
		CreatedAt:     now.Time(),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create message: %w", err)
	}

	cs.stats.Incr(stats.MessagesTotal)
	cs.notify(eventId)

	return types.Message{
		Id:            created.Id,
		EventId:       eventId,
		UserId:        created.UserId,
		Username:      author.Username,
		Content:       created.Content,
		IsOrganizer:   role == types.RoleOrganizer,
		FromOrganizer: created.FromOrganizer,
		Timestamp:     temporal.FromTime(created.CreatedAt),
	}, nil
}

// Edit replaces a message's content. Permitted for the author, and for the
// event's organizer as a moderation action.
func (cs *ChannelServer) Edit(eventId string, messageId, editorId int, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	msg, err := cs.authorizeMutation(eventId, messageId, editorId)
	if err != nil {
		return err
	}

	if err := cs.db.UpdateMessageContent(msg.Id, content); err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	cs.notify(eventId)
	return nil
}

// Delete removes a message. Same authorization rule as Edit.
func (cs *ChannelServer) Delete(eventId string, messageId, requesterId int) error {
	msg, err := cs.authorizeMutation(eventId, messageId, requesterId)
	if err != nil {
		return err
	}

	if err := cs.db.DeleteMessage(msg.Id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	cs.notify(eventId)
	return nil
}

// Messages returns a page of the event's conversation, newest first.
func (cs *ChannelServer) Messages(eventId string, limit, offset int) ([]types.Message, error) {
	event, err := cs.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	rows, err := cs.db.GetMessages(event.Id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	return cs.enrich(eventId, rows), nil
}

func (cs *ChannelServer) authorizeMutation(eventId string, messageId, requesterId int) (database.Message, error) {
	event, err := cs.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrEventNotFound
		}
		return database.Message{}, fmt.Errorf("get event: %w", err)
	}

	msg, err := cs.db.GetMessage(messageId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Message{}, ErrMessageNotFound
		}
		return database.Message{}, fmt.Errorf("get message: %w", err)
	}

	if msg.EventId != event.Id {
		return database.Message{}, ErrMessageNotFound
	}

	if msg.UserId != requesterId && cs.roles.RoleOf(eventId, requesterId) != types.RoleOrganizer {
		return database.Message{}, ErrUnauthorized
	}

	return msg, nil
}

// enrich converts store rows to wire messages sorted by canonical send
// instant (arrival order as tiebreak), recomputing the organizer flag from
// the ledger so role changes relabel history on the next delivery.
func (cs *ChannelServer) enrich(eventId string, rows []database.Message) []types.Message {
	roleCache := make(map[int]types.Role)
	roleOf := func(userId int) types.Role {
		if role, ok := roleCache[userId]; ok {
			return role
		}
		role := cs.roles.RoleOf(eventId, userId)
		roleCache[userId] = role
		return role
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, types.Message{
			Id:            row.Id,
			EventId:       eventId,
			UserId:        row.UserId,
			Username:      row.Username,
			Content:       row.Content,
			IsOrganizer:   roleOf(row.UserId) == types.RoleOrganizer,
			FromOrganizer: row.FromOrganizer,
			Timestamp:     temporal.FromTime(row.CreatedAt),
		})
	}

	return msgs
}

func (cs *ChannelServer) channelFor(eventId string) (*Channel, error) {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	if cs.stopped {
		return nil, fmt.Errorf("channel server is shut down")
	}

	if ch, ok := cs.channels[eventId]; ok {
		return ch, nil
	}

	event, err := cs.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	ch := newChannel(cs, event.Id, event.ExternalId)
	cs.channels[eventId] = ch
	cs.stats.Incr(stats.LoadedChannels)

	go ch.start()

	return ch, nil
}

// notify triggers a redelivery if the event's channel is loaded. Mutations
// on unloaded channels need no fan-out since nobody is listening.
func (cs *ChannelServer) notify(eventId string) {
	cs.lock.Lock()
	ch, ok := cs.channels[eventId]
	cs.lock.Unlock()

	if ok {
		ch.requestDeliver()
	}
}

// UnloadChannel removes the event's channel, notifying subscribers when the
// event was deleted.
func (cs *ChannelServer) UnloadChannel(eventId string, deleted bool) {
	cs.lock.Lock()
	ch, ok := cs.channels[eventId]
	if ok {
		delete(cs.channels, eventId)
	}
	cs.lock.Unlock()

	if !ok {
		return
	}

	cs.stats.Decr(stats.LoadedChannels)
	ch.exit(deleted)
}

func (cs *ChannelServer) Shutdown() {
	cs.lock.Lock()
	cs.stopped = true
	channels := make([]*Channel, 0, len(cs.channels))
	for _, ch := range cs.channels {
		channels = append(channels, ch)
	}
	cs.channels = make(map[string]*Channel)
	cs.lock.Unlock()

	for _, ch := range channels {
		cs.log.Printf("shutting down channel %q", ch.eventId)
		ch.exit(false)
	}
}
