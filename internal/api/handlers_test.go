package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/gamedayhq/gameday/internal/channel"
	"github.com/gamedayhq/gameday/internal/config"
	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/offline"
	"github.com/gamedayhq/gameday/internal/participation"
	"github.com/gamedayhq/gameday/internal/stats"
	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/testutil"
	"github.com/gamedayhq/gameday/internal/types"
)

// stubRoleLookup answers every role query with a fixed role so channel
// permission checks can be steered without wiring a full ledger.
type stubRoleLookup struct {
	role types.Role
}

func (s stubRoleLookup) RoleOf(eventId string, userId int) types.Role {
	return s.role
}

func newTestApp(t *testing.T, mockRepo database.GamedayRepository, roles channel.RoleLookup, sp stats.StatsProvider, cache *offline.Cache) *GamedayApp {
	t.Helper()
	logger := testutil.TestLogger(t)

	cs := channel.NewChannelServer(logger, mockRepo, roles, sp)
	t.Cleanup(cs.Shutdown)
	ledger := participation.NewLedger(logger, mockRepo, sp)

	return NewGamedayApp(http.NewServeMux(), logger, cs, ledger, cache, mockRepo, &config.Config{
		SigningKey: []byte("test-signing-key"),
	})
}

var testEvent = database.Event{
	Id:          7,
	ExternalId:  "EoGKUXPHgz",
	Name:        "saturday pickup",
	Description: "casual five a side",
	Location:    "riverside park",
	OwnerId:     2,
	Capacity:    10,
	Visibility:  "public",
	StartsAt:    `"2099-01-01T00:00:00Z"`,
	CreatedAt:   time.Now().UTC(),
	UpdatedAt:   time.Now().UTC(),
}

func Test_healthz(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name: "healthy",
		},
		{
			name:    "database unreachable",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping").Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			app.healthz(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Contains(t, rr.Body.String(), "ok")
			}
		})
	}
}

func Test_createEvent(t *testing.T) {
	tcases := []struct {
		name        string
		body        any
		userId      int
		mockEvent   database.Event
		mockErr     error
		shortIdErr  error
		expectedErr *ApiError
	}{
		{
			name: "successfully creates an event",
			body: CreateEventRequest{
				Name:        testEvent.Name,
				Description: testEvent.Description,
				Location:    testEvent.Location,
				Capacity:    testEvent.Capacity,
				Visibility:  testEvent.Visibility,
				StartsAt:    json.RawMessage(testEvent.StartsAt),
			},
			userId:    2,
			mockEvent: testEvent,
		},
		{
			name:        "fails with invalid json body",
			body:        "invalid json",
			userId:      2,
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing name",
			body: CreateEventRequest{
				StartsAt: json.RawMessage(`"2099-01-01T00:00:00Z"`),
			},
			userId:      2,
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing starts_at",
			body: CreateEventRequest{
				Name: "saturday pickup",
			},
			userId:      2,
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with null starts_at",
			body: CreateEventRequest{
				Name:     "saturday pickup",
				StartsAt: json.RawMessage(`null`),
			},
			userId:      2,
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with negative capacity",
			body: CreateEventRequest{
				Name:     "saturday pickup",
				Capacity: -1,
				StartsAt: json.RawMessage(`"2099-01-01T00:00:00Z"`),
			},
			userId:      2,
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with no user id in context",
			body: CreateEventRequest{
				Name:     "saturday pickup",
				StartsAt: json.RawMessage(`"2099-01-01T00:00:00Z"`),
			},
			userId:      0,
			expectedErr: NewUnauthorizedError(),
		},
		{
			name: "fails to generate short id",
			body: CreateEventRequest{
				Name:     "saturday pickup",
				StartsAt: json.RawMessage(`"2099-01-01T00:00:00Z"`),
			},
			userId:      2,
			shortIdErr:  errors.New("failed to generate short id"),
			expectedErr: NewInternalServerError(nil),
		},
		{
			name: "fails with db error",
			body: CreateEventRequest{
				Name:        testEvent.Name,
				Description: testEvent.Description,
				Location:    testEvent.Location,
				Capacity:    testEvent.Capacity,
				Visibility:  testEvent.Visibility,
				StartsAt:    json.RawMessage(testEvent.StartsAt),
			},
			userId:      2,
			mockEvent:   testEvent,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockEvent.Id != 0 || tc.mockErr != nil {
				createReq, ok := tc.body.(CreateEventRequest)
				if !ok {
					t.Fatalf("expected body to be of type CreateEventRequest, got %T", tc.body)
				}
				mockRepo.On("CreateEvent", mock.MatchedBy(func(params database.CreateEventParams) bool {
					return params.Name == createReq.Name &&
						params.OwnerId == tc.userId &&
						params.ExternalId == testEvent.ExternalId &&
						params.Capacity == createReq.Capacity &&
						params.StartsAt == string(createReq.StartsAt)
				})).Return(tc.mockEvent, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)
			app.generateShortId = func() (string, error) {
				if tc.shortIdErr != nil {
					return "", tc.shortIdErr
				}
				return testEvent.ExternalId, nil
			}

			var req *http.Request
			switch v := tc.body.(type) {
			case string:
				req = httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(v))
			default:
				body, err := json.Marshal(tc.body)
				assert.NoErrorf(t, err, "failed to marshal request body: %v", err)
				req = httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewBuffer(body))
			}

			if tc.userId > 0 {
				ctx := WithUserId(req.Context(), tc.userId)
				req = req.WithContext(ctx)
			}

			rr := httptest.NewRecorder()
			app.createEvent(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusCreated, rr.Code)

				var event types.Event
				err := json.NewDecoder(rr.Body).Decode(&event)
				assert.NoErrorf(t, err, "failed to decode response: %v", err)
				assert.Equal(t, tc.mockEvent.Id, event.Id)
				assert.Equal(t, tc.mockEvent.ExternalId, event.ExternalId)
				assert.Equal(t, tc.mockEvent.Name, event.Name)
				assert.Equal(t, tc.mockEvent.OwnerId, event.OwnerId)
				assert.Equal(t, tc.mockEvent.Capacity, event.Capacity)
				assert.Equal(t, temporal.ResolveJSON(tc.mockEvent.StartsAt), event.StartsAt, "expected starts_at to resolve to the stored instant")
			}
		})
	}
}

func Test_getEvent(t *testing.T) {
	tcases := []struct {
		name        string
		eventId     string
		mockEvent   database.Event
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:      "successfully retrieves an event",
			eventId:   testEvent.ExternalId,
			mockEvent: testEvent,
		},
		{
			name:        "fails with no query parameter",
			eventId:     "",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails with event not found",
			eventId:     "not-found",
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "fails with db error",
			eventId:     testEvent.ExternalId,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.eventId != "" {
				mockRepo.On("GetEventByExternalId", tc.eventId).Return(tc.mockEvent, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

			var queryString string
			if tc.eventId != "" {
				queryString = "?id=" + tc.eventId
			}
			req := httptest.NewRequest(http.MethodGet, "/api/events"+queryString, nil)
			rr := httptest.NewRecorder()
			app.getEvent(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)

				var event types.Event
				err := json.NewDecoder(rr.Body).Decode(&event)
				assert.NoErrorf(t, err, "failed to decode response: %v", err)
				assert.Equal(t, tc.mockEvent.ExternalId, event.ExternalId)
				assert.Equal(t, tc.mockEvent.Name, event.Name)
			}
		})
	}
}

func Test_deleteEvent(t *testing.T) {
	tcases := []struct {
		name          string
		userId        int
		eventId       string
		mockEvent     database.Event
		mockGetErr    error
		mockDeleteErr error
		deleteCalled  bool
		expectedErr   *ApiError
	}{
		{
			name:         "successfully deletes an event",
			userId:       testEvent.OwnerId,
			eventId:      testEvent.ExternalId,
			mockEvent:    testEvent,
			deleteCalled: true,
		},
		{
			name:        "fails with no query parameter",
			userId:      testEvent.OwnerId,
			eventId:     "",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails with event not found",
			userId:      testEvent.OwnerId,
			eventId:     "not-found",
			mockGetErr:  sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "fails when caller is not the organizer",
			userId:      99,
			eventId:     testEvent.ExternalId,
			mockEvent:   testEvent,
			expectedErr: NewForbiddenError(),
		},
		{
			name:          "fails with db error on delete",
			userId:        testEvent.OwnerId,
			eventId:       testEvent.ExternalId,
			mockEvent:     testEvent,
			mockDeleteErr: errors.New("db error"),
			deleteCalled:  true,
			expectedErr:   NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.eventId != "" {
				mockRepo.On("GetEventByExternalId", tc.eventId).Return(tc.mockEvent, tc.mockGetErr).Once()
			}
			if tc.deleteCalled {
				mockRepo.On("DeleteEvent", tc.mockEvent.Id).Return(tc.mockDeleteErr).Once()
			}

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

			var queryString string
			if tc.eventId != "" {
				queryString = "?id=" + tc.eventId
			}
			req := httptest.NewRequest(http.MethodDelete, "/api/events"+queryString, nil)
			ctx := WithUserId(req.Context(), tc.userId)
			req = req.WithContext(ctx)

			rr := httptest.NewRecorder()
			app.deleteEvent(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusNoContent, rr.Code)
			}
		})
	}
}

func Test_joinEvent(t *testing.T) {
	now := time.Now().UTC()

	tcases := []struct {
		name        string
		userId      int
		setup       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater)
		expectedErr *ApiError
	}{
		{
			name:   "successfully joins an event",
			userId: 1,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{}, sql.ErrNoRows).Once()
				m.On("JoinEvent", testEvent.Id, 1).Return(database.Participation{
					EventId:   testEvent.Id,
					UserId:    1,
					Role:      string(types.RoleParticipant),
					CreatedAt: now,
				}, nil).Once()
				sp.On("Incr", stats.JoinsTotal).Once()
			},
		},
		{
			name:   "fails when already registered",
			userId: 1,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{
					EventId: testEvent.Id,
					UserId:  1,
					Role:    string(types.RoleParticipant),
				}, nil).Once()
			},
			expectedErr: &ApiError{StatusCode: http.StatusBadRequest, Message: participation.ErrAlreadyRegistered.Error()},
		},
		{
			name:   "fails when the organizer joins their own event",
			userId: testEvent.OwnerId,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, testEvent.OwnerId).Return(database.Participation{}, sql.ErrNoRows).Once()
			},
			expectedErr: &ApiError{StatusCode: http.StatusBadRequest, Message: participation.ErrSelfJoinAsOrganizer.Error()},
		},
		{
			name:   "fails when the event is full",
			userId: 1,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{}, sql.ErrNoRows).Once()
				m.On("JoinEvent", testEvent.Id, 1).Return(database.Participation{}, database.ErrEventFull).Once()
			},
			expectedErr: &ApiError{StatusCode: http.StatusBadRequest, Message: participation.ErrCapacityExceeded.Error()},
		},
		{
			name:   "fails with event not found",
			userId: 1,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(database.Event{}, sql.ErrNoRows).Once()
			},
			expectedErr: NewNotFoundError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)
			sp := &stats.MockStatsUpdater{}
			defer sp.AssertExpectations(t)

			tc.setup(mockRepo, sp)

			app := newTestApp(t, mockRepo, stubRoleLookup{}, sp, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/events/"+testEvent.ExternalId+"/join", nil)
			req.SetPathValue("id", testEvent.ExternalId)
			ctx := WithUserId(req.Context(), tc.userId)
			req = req.WithContext(ctx)

			rr := httptest.NewRecorder()
			app.joinEvent(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)

				var p types.Participation
				err := json.NewDecoder(rr.Body).Decode(&p)
				assert.NoErrorf(t, err, "failed to decode response: %v", err)
				assert.Equal(t, testEvent.Id, p.EventId)
				assert.Equal(t, tc.userId, p.UserId)
				assert.Equal(t, types.RoleParticipant, p.Role)
				assert.Equal(t, temporal.FromTime(now), p.JoinedAt)
			}
		})
	}
}

func Test_leaveEvent(t *testing.T) {
	tcases := []struct {
		name        string
		callerId    int
		query       string
		setup       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater)
		expectedErr *ApiError
	}{
		{
			name:     "successfully leaves an event",
			callerId: 1,
			query:    "?event_id=" + testEvent.ExternalId + "&user_id=1",
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{
					EventId: testEvent.Id,
					UserId:  1,
					Role:    string(types.RoleParticipant),
				}, nil).Once()
				m.On("DeleteParticipation", testEvent.Id, 1).Return(nil).Once()
				sp.On("Decr", stats.JoinsTotal).Once()
			},
		},
		{
			name:        "fails with missing query parameters",
			callerId:    1,
			query:       "",
			setup:       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {},
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails when removing another user",
			callerId:    1,
			query:       "?event_id=" + testEvent.ExternalId + "&user_id=2",
			setup:       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {},
			expectedErr: NewForbiddenError(),
		},
		{
			name:     "fails when the organizer tries to leave",
			callerId: testEvent.OwnerId,
			query:    "?event_id=" + testEvent.ExternalId + "&user_id=2",
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, testEvent.OwnerId).Return(database.Participation{
					EventId: testEvent.Id,
					UserId:  testEvent.OwnerId,
					Role:    string(types.RoleOrganizer),
				}, nil).Once()
			},
			expectedErr: NewConflictError(participation.ErrOrganizerCannotLeave.Error()),
		},
		{
			name:     "fails when not registered",
			callerId: 1,
			query:    "?event_id=" + testEvent.ExternalId + "&user_id=1",
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{}, sql.ErrNoRows).Once()
			},
			expectedErr: NewNotFoundError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)
			sp := &stats.MockStatsUpdater{}
			defer sp.AssertExpectations(t)

			tc.setup(mockRepo, sp)

			app := newTestApp(t, mockRepo, stubRoleLookup{}, sp, nil)

			req := httptest.NewRequest(http.MethodDelete, "/api/userEvents"+tc.query, nil)
			ctx := WithUserId(req.Context(), tc.callerId)
			req = req.WithContext(ctx)

			rr := httptest.NewRecorder()
			app.leaveEvent(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
			}
		})
	}
}

func Test_updateRole(t *testing.T) {
	tcases := []struct {
		name        string
		callerId    int
		body        UpdateRoleRequest
		setup       func(m *database.MockGamedayRepository)
		expectedErr *ApiError
	}{
		{
			name:     "organizer demotes a participant to observer",
			callerId: testEvent.OwnerId,
			body: UpdateRoleRequest{
				EventId: testEvent.ExternalId,
				UserId:  1,
				Role:    string(types.RoleObserver),
			},
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 1).Return(database.Participation{
					EventId: testEvent.Id,
					UserId:  1,
					Role:    string(types.RoleParticipant),
				}, nil).Once()
				m.On("UpdateParticipationRole", testEvent.Id, 1, string(types.RoleObserver)).Return(nil).Once()
			},
		},
		{
			name:     "fails when caller is not the organizer",
			callerId: 5,
			body: UpdateRoleRequest{
				EventId: testEvent.ExternalId,
				UserId:  1,
				Role:    string(types.RoleObserver),
			},
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
			},
			expectedErr: NewForbiddenError(),
		},
		{
			name:     "fails when granting the organizer role",
			callerId: testEvent.OwnerId,
			body: UpdateRoleRequest{
				EventId: testEvent.ExternalId,
				UserId:  1,
				Role:    string(types.RoleOrganizer),
			},
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
			},
			expectedErr: NewBadRequestError(),
		},
		{
			name:     "fails when the target is the organizer",
			callerId: testEvent.OwnerId,
			body: UpdateRoleRequest{
				EventId: testEvent.ExternalId,
				UserId:  testEvent.OwnerId,
				Role:    string(types.RoleObserver),
			},
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, testEvent.OwnerId).Return(database.Participation{
					EventId: testEvent.Id,
					UserId:  testEvent.OwnerId,
					Role:    string(types.RoleOrganizer),
				}, nil).Once()
			},
			expectedErr: NewForbiddenError(),
		},
		{
			name:     "fails when the target is not registered",
			callerId: testEvent.OwnerId,
			body: UpdateRoleRequest{
				EventId: testEvent.ExternalId,
				UserId:  9,
				Role:    string(types.RoleObserver),
			},
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetParticipation", testEvent.Id, 9).Return(database.Participation{}, sql.ErrNoRows).Once()
			},
			expectedErr: NewNotFoundError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			tc.setup(mockRepo)

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

			body, err := json.Marshal(tc.body)
			assert.NoErrorf(t, err, "failed to marshal request body: %v", err)
			req := httptest.NewRequest(http.MethodPut, "/api/userEvents", bytes.NewBuffer(body))
			ctx := WithUserId(req.Context(), tc.callerId)
			req = req.WithContext(ctx)

			rr := httptest.NewRecorder()
			app.updateRole(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
			}
		})
	}
}

func Test_userEventsHandler(t *testing.T) {
	now := time.Now().UTC()
	rows := []database.UserEventRow{
		{
			Event:    testEvent,
			Role:     string(types.RoleParticipant),
			JoinedAt: now,
		},
	}

	mockRepo := &database.MockGamedayRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListUserEvents", 1).Return(rows, nil).Once()

	app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/userEvents", nil)
	req = req.WithContext(WithUserId(req.Context(), 1))

	rr := httptest.NewRecorder()
	app.userEvents(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var userEvents []types.UserEvent
	err := json.NewDecoder(rr.Body).Decode(&userEvents)
	assert.NoErrorf(t, err, "failed to decode response: %v", err)
	assert.Len(t, userEvents, 1)
	assert.Equal(t, testEvent.ExternalId, userEvents[0].Event.ExternalId)
	assert.Equal(t, types.RoleParticipant, userEvents[0].Role)
	assert.Equal(t, temporal.FromTime(now), userEvents[0].JoinedAt)
}

func Test_getMessagesHandler(t *testing.T) {
	now := time.Now().UTC()
	mockMessages := []database.Message{
		{
			Id:        3,
			EventId:   testEvent.Id,
			UserId:    1,
			Username:  "alice",
			Content:   "anyone bringing a spare ball?",
			CreatedAt: now,
		},
		{
			Id:        2,
			EventId:   testEvent.Id,
			UserId:    2,
			Username:  "bob",
			Content:   "pitch is booked for 3pm",
			CreatedAt: now.Add(-10 * time.Minute),
		},
	}

	tcases := []struct {
		name        string
		query       string
		setup       func(m *database.MockGamedayRepository)
		expectedLen int
		expectedErr *ApiError
	}{
		{
			name:  "successfully retrieves messages",
			query: "?event_id=" + testEvent.ExternalId + "&limit=2&offset=1",
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetMessages", testEvent.Id, 2, 1).Return(mockMessages, nil).Once()
			},
			expectedLen: 2,
		},
		{
			name:        "fails with missing event_id",
			query:       "",
			setup:       func(m *database.MockGamedayRepository) {},
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails with invalid limit",
			query:       "?event_id=" + testEvent.ExternalId + "&limit=abc",
			setup:       func(m *database.MockGamedayRepository) {},
			expectedErr: NewBadRequestError(),
		},
		{
			name:  "fails with event not found",
			query: "?event_id=missing",
			setup: func(m *database.MockGamedayRepository) {
				m.On("GetEventByExternalId", "missing").Return(database.Event{}, sql.ErrNoRows).Once()
			},
			expectedErr: NewNotFoundError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			tc.setup(mockRepo)

			app := newTestApp(t, mockRepo, stubRoleLookup{role: types.RoleParticipant}, &stats.MockStatsUpdater{}, nil)

			// message listing requires no authentication
			req := httptest.NewRequest(http.MethodGet, "/api/messages"+tc.query, nil)
			rr := httptest.NewRecorder()
			app.getMessages(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
				return
			}

			assert.Equal(t, http.StatusOK, rr.Code)

			var messages []types.Message
			err := json.NewDecoder(rr.Body).Decode(&messages)
			assert.NoErrorf(t, err, "failed to decode response: %v", err)
			assert.Len(t, messages, tc.expectedLen)
			for i := range messages {
				assert.Equal(t, mockMessages[i].Id, messages[i].Id)
				assert.Equal(t, testEvent.ExternalId, messages[i].EventId)
				assert.Equal(t, mockMessages[i].Content, messages[i].Content)
				assert.Equal(t, temporal.FromTime(mockMessages[i].CreatedAt), messages[i].Timestamp)
				assert.False(t, messages[i].IsOrganizer)
			}
		})
	}
}

func Test_sendMessageHandler(t *testing.T) {
	now := time.Now().UTC()
	author := database.User{Id: 1, Username: "alice"}

	tcases := []struct {
		name        string
		body        SendMessageRequest
		role        types.Role
		setup       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater)
		expectedErr *ApiError
	}{
		{
			name: "participant sends a message",
			body: SendMessageRequest{EventId: testEvent.ExternalId, Content: "see you there"},
			role: types.RoleParticipant,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetAccountById", author.Id).Return(author, nil).Once()
				m.On("CreateMessage", mock.MatchedBy(func(msg database.Message) bool {
					return msg.EventId == testEvent.Id &&
						msg.UserId == author.Id &&
						msg.Content == "see you there" &&
						!msg.FromOrganizer
				})).Return(database.Message{
					Id:        5,
					EventId:   testEvent.Id,
					UserId:    author.Id,
					Content:   "see you there",
					CreatedAt: now,
				}, nil).Once()
				sp.On("Incr", stats.MessagesTotal).Once()
			},
		},
		{
			name:        "fails with empty content",
			body:        SendMessageRequest{EventId: testEvent.ExternalId, Content: "   "},
			role:        types.RoleParticipant,
			setup:       func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {},
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails when sender holds no role",
			body: SendMessageRequest{EventId: testEvent.ExternalId, Content: "hello"},
			role: types.RoleNone,
			setup: func(m *database.MockGamedayRepository, sp *stats.MockStatsUpdater) {
				m.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
				m.On("GetAccountById", author.Id).Return(author, nil).Once()
			},
			expectedErr: NewForbiddenError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)
			sp := &stats.MockStatsUpdater{}
			defer sp.AssertExpectations(t)

			tc.setup(mockRepo, sp)

			app := newTestApp(t, mockRepo, stubRoleLookup{role: tc.role}, sp, nil)

			body, err := json.Marshal(tc.body)
			assert.NoErrorf(t, err, "failed to marshal request body: %v", err)
			req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewBuffer(body))
			req = req.WithContext(WithUserId(req.Context(), author.Id))

			rr := httptest.NewRecorder()
			app.sendMessage(rr, req)

			if tc.expectedErr != nil {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoErrorf(t, err, "failed to decode error response: %v", err)
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)

				var msg types.Message
				err := json.NewDecoder(rr.Body).Decode(&msg)
				assert.NoErrorf(t, err, "failed to decode response: %v", err)
				assert.Equal(t, 5, msg.Id)
				assert.Equal(t, testEvent.ExternalId, msg.EventId)
				assert.Equal(t, author.Username, msg.Username)
				assert.Equal(t, temporal.FromTime(now), msg.Timestamp)
			}
		})
	}
}

func Test_editAndDeleteMessageHandlers(t *testing.T) {
	storedMsg := database.Message{
		Id:      5,
		EventId: testEvent.Id,
		UserId:  1,
		Content: "original",
	}

	t.Run("author edits their message", func(t *testing.T) {
		mockRepo := &database.MockGamedayRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
		mockRepo.On("GetMessage", storedMsg.Id).Return(storedMsg, nil).Once()
		mockRepo.On("UpdateMessageContent", storedMsg.Id, "updated").Return(nil).Once()

		app := newTestApp(t, mockRepo, stubRoleLookup{role: types.RoleParticipant}, &stats.MockStatsUpdater{}, nil)

		body, _ := json.Marshal(EditMessageRequest{
			EventId:   testEvent.ExternalId,
			MessageId: storedMsg.Id,
			Content:   "updated",
		})
		req := httptest.NewRequest(http.MethodPut, "/api/messages", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), storedMsg.UserId))

		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("non-author cannot edit", func(t *testing.T) {
		mockRepo := &database.MockGamedayRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
		mockRepo.On("GetMessage", storedMsg.Id).Return(storedMsg, nil).Once()

		app := newTestApp(t, mockRepo, stubRoleLookup{role: types.RoleParticipant}, &stats.MockStatsUpdater{}, nil)

		body, _ := json.Marshal(EditMessageRequest{
			EventId:   testEvent.ExternalId,
			MessageId: storedMsg.Id,
			Content:   "updated",
		})
		req := httptest.NewRequest(http.MethodPut, "/api/messages", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 9))

		rr := httptest.NewRecorder()
		app.editMessage(rr, req)

		var apiErr ApiError
		err := json.NewDecoder(rr.Body).Decode(&apiErr)
		assert.NoErrorf(t, err, "failed to decode error response: %v", err)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, *NewForbiddenError(), apiErr)
	})

	t.Run("author deletes their message", func(t *testing.T) {
		mockRepo := &database.MockGamedayRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetEventByExternalId", testEvent.ExternalId).Return(testEvent, nil).Once()
		mockRepo.On("GetMessage", storedMsg.Id).Return(storedMsg, nil).Once()
		mockRepo.On("DeleteMessage", storedMsg.Id).Return(nil).Once()

		app := newTestApp(t, mockRepo, stubRoleLookup{role: types.RoleParticipant}, &stats.MockStatsUpdater{}, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/messages?event_id="+testEvent.ExternalId+"&message_id=5", nil)
		req = req.WithContext(WithUserId(req.Context(), storedMsg.UserId))

		rr := httptest.NewRecorder()
		app.deleteMessage(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func Test_cacheEndpoints(t *testing.T) {
	now := time.Now().UTC()
	rows := []database.UserEventRow{
		{
			Event: database.Event{
				Id:         8,
				ExternalId: "XpQr12abCd",
				Name:       "sunday league",
				OwnerId:    1,
				StartsAt:   `"2099-02-01T10:00:00Z"`,
				CreatedAt:  now,
			},
			Role:     string(types.RoleOrganizer),
			JoinedAt: now,
		},
		{
			Event:    testEvent,
			Role:     string(types.RoleParticipant),
			JoinedAt: now,
		},
	}

	mockRepo := &database.MockGamedayRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("ListUserEvents", 1).Return(rows, nil).Once()

	cache := offline.NewCache(testutil.TestLogger(t), offline.NewMemoryStorage())
	app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, cache)

	withUser := func(req *http.Request) *http.Request {
		return req.WithContext(WithUserId(req.Context(), 1))
	}

	// save builds the snapshot from the user's events
	rr := httptest.NewRecorder()
	app.cacheSave(rr, withUser(httptest.NewRequest(http.MethodPost, "/api/cache", nil)))
	assert.Equal(t, http.StatusOK, rr.Code)

	var info offline.Info
	err := json.NewDecoder(rr.Body).Decode(&info)
	assert.NoErrorf(t, err, "failed to decode response: %v", err)
	assert.True(t, info.HasCache)
	assert.Equal(t, 2, info.EventCount)

	// snapshot comes back for the owning user
	rr = httptest.NewRecorder()
	app.cacheLoad(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/cache/snapshot", nil)))
	assert.Equal(t, http.StatusOK, rr.Code)

	var snapshot offline.Snapshot
	err = json.NewDecoder(rr.Body).Decode(&snapshot)
	assert.NoErrorf(t, err, "failed to decode response: %v", err)
	assert.Equal(t, "1", snapshot.UserId)
	assert.Len(t, snapshot.Events, 2)
	assert.Equal(t, types.RoleOrganizer, snapshot.Events[0].UserRole)
	assert.Equal(t, types.RoleParticipant, snapshot.Events[1].UserRole)

	// another user sees nothing
	rr = httptest.NewRecorder()
	otherReq := httptest.NewRequest(http.MethodGet, "/api/cache/snapshot", nil)
	otherReq = otherReq.WithContext(WithUserId(otherReq.Context(), 2))
	app.cacheLoad(rr, otherReq)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// clear wipes the snapshot
	rr = httptest.NewRecorder()
	app.cacheClear(rr, withUser(httptest.NewRequest(http.MethodDelete, "/api/cache", nil)))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	app.cacheLoad(rr, withUser(httptest.NewRequest(http.MethodGet, "/api/cache/snapshot", nil)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_serveWs(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Username:     "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: "examplehash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	t.Run("successful websocket upgrade", func(t *testing.T) {
		mockRepo := &database.MockGamedayRepository{}
		defer mockRepo.AssertExpectations(t)

		sp := &stats.MockStatsUpdater{}
		sp.On("Incr", stats.ActiveConnections).Once()
		sp.On("Decr", stats.ActiveConnections).Maybe()

		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		app := newTestApp(t, mockRepo, stubRoleLookup{}, sp, nil)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithUserId(r.Context(), mockUser.Id)
			r = r.WithContext(ctx)
			app.serveWs(w, r)
		}))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{})
		defer func() {
			if conn != nil {
				conn.Close()
			}
		}()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	})

	errorTestCases := []struct {
		name        string
		userId      int
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "unauthorized user",
			userId:      0,
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "user not found",
			userId:      1,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "db error",
			userId:      1,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockGamedayRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				mockRepo.On("GetAccountById", tc.userId).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, stubRoleLookup{}, &stats.MockStatsUpdater{}, nil)

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.userId > 0 {
				ctx := WithUserId(req.Context(), tc.userId)
				req = req.WithContext(ctx)
			}

			rr := httptest.NewRecorder()
			app.serveWs(rr, req)

			var apiErr ApiError
			err := json.NewDecoder(rr.Body).Decode(&apiErr)
			assert.NoError(t, err, "failed to decode ApiError response")
			assert.Equal(t, apiErr.StatusCode, rr.Code)
			assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError to match")
		})
	}
}
