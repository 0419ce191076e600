package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/gamedayhq/gameday/internal/channel"
	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/participation"
	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

type CreateEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Capacity    int    `json:"capacity"`
	Visibility  string `json:"visibility"`
	// StartsAt is accepted in any wire shape (ISO string, epoch number,
	// timestamp object) and stored raw; reads resolve it.
	StartsAt json.RawMessage `json:"starts_at"`
}

type UpdateRoleRequest struct {
	EventId string `json:"event_id"`
	UserId  int    `json:"user_id"`
	Role    string `json:"role"`
}

type SendMessageRequest struct {
	EventId string `json:"event_id"`
	Content string `json:"content"`
}

type EditMessageRequest struct {
	EventId   string `json:"event_id"`
	MessageId int    `json:"message_id"`
	Content   string `json:"content"`
}

func (s *GamedayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func eventResponse(event database.Event) types.Event {
	return types.Event{
		Id:          event.Id,
		ExternalId:  event.ExternalId,
		Name:        event.Name,
		Description: event.Description,
		Location:    event.Location,
		OwnerId:     event.OwnerId,
		Capacity:    event.Capacity,
		Visibility:  event.Visibility,
		StartsAt:    temporal.ResolveJSON(event.StartsAt),
		CreatedAt:   event.CreatedAt,
		UpdatedAt:   event.UpdatedAt,
	}
}

func (s *GamedayApp) createEvent(w http.ResponseWriter, r *http.Request) {
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// an absent starts_at and an explicit JSON null both decode to
	// something the resolver would quietly turn into "now", so reject both
	startsAt := bytes.TrimSpace(req.StartsAt)
	if req.Name == "" || req.Capacity < 0 || len(startsAt) == 0 || string(startsAt) == "null" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = "public"
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateEventParams{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Capacity:    req.Capacity,
		Visibility:  visibility,
		StartsAt:    string(req.StartsAt),
		OwnerId:     userId,
		ExternalId:  sid,
	}

	newEvent, err := s.db.CreateEvent(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, eventResponse(newEvent))
}

func (s *GamedayApp) getEvent(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	event, err := s.db.GetEventByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, eventResponse(event))
}

func (s *GamedayApp) deleteEvent(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	event, err := s.db.GetEventByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if event.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteEvent(event.Id); err != nil {
		s.log.Println("delete event:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// drop the live conversation and tell subscribers the event is gone
	s.cs.UnloadChannel(event.ExternalId, true)

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GamedayApp) joinEvent(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	eventId := r.PathValue("id")

	p, err := s.ledger.Join(eventId, userId)
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, participation.ErrEventNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, participation.ErrAlreadyRegistered),
			errors.Is(err, participation.ErrSelfJoinAsOrganizer),
			errors.Is(err, participation.ErrCapacityExceeded):
			errResp = &ApiError{StatusCode: http.StatusBadRequest, Message: err.Error()}
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, p)
}

func (s *GamedayApp) eventStats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	eventId := r.PathValue("id")

	eventStats, err := s.ledger.StatsFor(eventId, userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, participation.ErrEventNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, eventStats)
}

func (s *GamedayApp) userEvents(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userEvents, err := s.ledger.UserEvents(userId)
	if err != nil {
		s.log.Println("list user events:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, userEvents)
}

func (s *GamedayApp) updateRole(w http.ResponseWriter, r *http.Request) {
	callerId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.EventId == "" || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	err := s.ledger.UpdateRole(req.EventId, callerId, req.UserId, types.Role(req.Role))
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, participation.ErrEventNotFound),
			errors.Is(err, participation.ErrNotRegistered):
			errResp = NewNotFoundError()
		case errors.Is(err, participation.ErrNotOrganizer),
			errors.Is(err, participation.ErrOrganizerImmutable):
			errResp = NewForbiddenError()
		case errors.Is(err, participation.ErrInvalidRole):
			errResp = NewBadRequestError()
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, nil)
}

func (s *GamedayApp) leaveEvent(w http.ResponseWriter, r *http.Request) {
	callerId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	eventId := r.URL.Query().Get("event_id")
	userIdStr := r.URL.Query().Get("user_id")
	if eventId == "" || userIdStr == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, err := strconv.Atoi(userIdStr)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// only the user themselves may leave
	if userId != callerId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.ledger.Leave(eventId, userId); err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, participation.ErrEventNotFound),
			errors.Is(err, participation.ErrNotRegistered):
			errResp = NewNotFoundError()
		case errors.Is(err, participation.ErrOrganizerCannotLeave):
			errResp = NewConflictError("organizer cannot leave their own event")
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, nil)
}

func (s *GamedayApp) getMessages(w http.ResponseWriter, r *http.Request) {
	eventId := r.URL.Query().Get("event_id")
	if eventId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit, offset int
	var err error

	limitStr := r.URL.Query().Get("limit")
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	offsetStr := r.URL.Query().Get("offset")
	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.cs.Messages(eventId, limit, offset)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, channel.ErrEventNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *GamedayApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.cs.Send(req.EventId, userId, req.Content)
	if err != nil {
		errResp := s.messageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, msg)
}

func (s *GamedayApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Edit(req.EventId, req.MessageId, userId, req.Content); err != nil {
		errResp := s.messageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, nil)
}

func (s *GamedayApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	eventId := r.URL.Query().Get("event_id")
	messageIdStr := r.URL.Query().Get("message_id")
	if eventId == "" || messageIdStr == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messageId, err := strconv.Atoi(messageIdStr)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Delete(eventId, messageId, userId); err != nil {
		errResp := s.messageError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, nil)
}

func (s *GamedayApp) messageError(err error) *ApiError {
	switch {
	case errors.Is(err, channel.ErrEventNotFound),
		errors.Is(err, channel.ErrUserNotFound),
		errors.Is(err, channel.ErrMessageNotFound):
		return NewNotFoundError()
	case errors.Is(err, channel.ErrEmptyContent):
		return NewBadRequestError()
	case errors.Is(err, channel.ErrUnauthorized):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *GamedayApp) cacheSave(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userEvents, err := s.ledger.UserEvents(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var created []types.Event
	var joined []types.UserEvent
	for _, ue := range userEvents {
		if ue.Role == types.RoleOrganizer {
			created = append(created, ue.Event)
			continue
		}
		joined = append(joined, ue)
	}

	if err := s.cache.Save(userId, created, joined); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, s.cache.Info(userId))
}

func (s *GamedayApp) cacheLoad(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	snapshot, err := s.cache.Load(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if snapshot == nil {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, snapshot)
}

func (s *GamedayApp) cacheInfo(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, s.cache.Info(userId))
}

func (s *GamedayApp) cacheClear(w http.ResponseWriter, _ *http.Request) {
	if err := s.cache.Clear(); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GamedayApp) healthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GamedayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := channel.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}, conn, s.cs, s.log)

	go client.Write()
	go client.Read()
}
