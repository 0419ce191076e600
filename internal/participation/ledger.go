// Package participation owns the join/leave/role state machine for events.
// Participation records are written only through this package; other
// components read roles via RoleOf and StatsFor.
package participation

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/gamedayhq/gameday/internal/database"
	"github.com/gamedayhq/gameday/internal/stats"
	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

type Ledger struct {
	log   *log.Logger
	db    database.GamedayRepository
	stats stats.StatsProvider
}

func NewLedger(logger *log.Logger, db database.GamedayRepository, sp stats.StatsProvider) *Ledger {
	return &Ledger{
		log:   logger,
		db:    db,
		stats: sp,
	}
}

// Join registers userId as a participant on the event. Preconditions are
// checked in order: event exists, not already registered, not the organizer,
// capacity. The capacity check itself runs inside the repository's join
// transaction so racing joins at the boundary cannot overbook.
func (l *Ledger) Join(eventId string, userId int) (types.Participation, error) {
	event, err := l.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Participation{}, ErrEventNotFound
		}
		return types.Participation{}, fmt.Errorf("get event: %w", err)
	}

	_, err = l.db.GetParticipation(event.Id, userId)
	if err == nil {
		return types.Participation{}, ErrAlreadyRegistered
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.Participation{}, fmt.Errorf("get participation: %w", err)
	}

	if event.OwnerId == userId {
		return types.Participation{}, ErrSelfJoinAsOrganizer
	}

	if temporal.IsPast(temporal.ResolveJSON(event.StartsAt), temporal.Now()) {
		l.log.Printf("user %d joining event %q which is already in the past", userId, eventId)
	}

	p, err := l.db.JoinEvent(event.Id, userId)
	if err != nil {
		if errors.Is(err, database.ErrEventFull) {
			return types.Participation{}, ErrCapacityExceeded
		}
		if errors.Is(err, sql.ErrNoRows) {
			// event deleted between the lookup and the join
			return types.Participation{}, ErrEventNotFound
		}
		return types.Participation{}, fmt.Errorf("join event: %w", err)
	}

	l.stats.Incr(stats.JoinsTotal)

	return types.Participation{
		EventId:  p.EventId,
		UserId:   p.UserId,
		Role:     types.RoleParticipant,
		JoinedAt: temporal.FromTime(p.CreatedAt),
	}, nil
}

// Leave removes userId's participation. The organizer cannot leave; they
// must delete the event instead.
func (l *Ledger) Leave(eventId string, userId int) error {
	event, err := l.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("get event: %w", err)
	}

	p, err := l.db.GetParticipation(event.Id, userId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotRegistered
		}
		return fmt.Errorf("get participation: %w", err)
	}

	if types.Role(p.Role) == types.RoleOrganizer {
		return ErrOrganizerCannotLeave
	}

	if err := l.db.DeleteParticipation(event.Id, userId); err != nil {
		return fmt.Errorf("delete participation: %w", err)
	}

	l.stats.Decr(stats.JoinsTotal)

	return nil
}

// RoleOf is a pure lookup with no side effects. RoleNone means the user has
// no standing on the event.
func (l *Ledger) RoleOf(eventId string, userId int) types.Role {
	event, err := l.db.GetEventByExternalId(eventId)
	if err != nil {
		return types.RoleNone
	}

	p, err := l.db.GetParticipation(event.Id, userId)
	if err != nil {
		return types.RoleNone
	}

	return types.Role(p.Role)
}

// StatsFor aggregates all participation records for the event, separating
// the organizer from participants and resolving the viewer's role.
//
// If no organizer record exists but the viewer owns the event, the missing
// record is synthesized and persisted before returning. Organizer enrollment
// is transactional at event creation, so this compensating write only fires
// for records damaged before that guarantee existed.
func (l *Ledger) StatsFor(eventId string, viewerId int) (types.EventStats, error) {
	event, err := l.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EventStats{}, ErrEventNotFound
		}
		return types.EventStats{}, fmt.Errorf("get event: %w", err)
	}

	rows, err := l.db.ListParticipations(event.Id)
	if err != nil {
		return types.EventStats{}, fmt.Errorf("list participations: %w", err)
	}

	var eventStats types.EventStats
	eventStats.Participants = make([]types.Participation, 0, len(rows))

	for _, row := range rows {
		p := types.Participation{
			EventId:  row.EventId,
			UserId:   row.UserId,
			Username: row.Username,
			Role:     types.Role(row.Role),
			JoinedAt: temporal.FromTime(row.CreatedAt),
		}

		if p.UserId == viewerId {
			eventStats.UserRole = p.Role
		}

		if p.Role == types.RoleOrganizer {
			org := p
			eventStats.Organizer = &org
			continue
		}

		eventStats.Participants = append(eventStats.Participants, p)
	}

	if eventStats.Organizer == nil && event.OwnerId == viewerId {
		healed := l.repairOrganizerRecord(event, viewerId)
		eventStats.Organizer = &healed
		eventStats.UserRole = types.RoleOrganizer
	}

	eventStats.TotalParticipants = len(eventStats.Participants)

	return eventStats, nil
}

// repairOrganizerRecord persists the organizer participation that event
// creation should have written. A failed persist still yields a synthesized
// record so the read completes.
func (l *Ledger) repairOrganizerRecord(event database.Event, viewerId int) types.Participation {
	l.log.Printf("repairing missing organizer record for event %q", event.ExternalId)

	p, err := l.db.CreateParticipation(event.Id, viewerId, string(types.RoleOrganizer))
	if err != nil {
		l.log.Printf("persist organizer record for event %q: %v", event.ExternalId, err)
		return types.Participation{
			EventId:  event.Id,
			UserId:   viewerId,
			Role:     types.RoleOrganizer,
			JoinedAt: temporal.FromTime(event.CreatedAt),
		}
	}

	return types.Participation{
		EventId:  p.EventId,
		UserId:   p.UserId,
		Role:     types.RoleOrganizer,
		JoinedAt: temporal.FromTime(p.CreatedAt),
	}
}

// UpdateRole changes a participant's role. Only the event's organizer may
// call it, the organizer record itself is immutable, and organizer is not a
// grantable role.
func (l *Ledger) UpdateRole(eventId string, callerId, targetId int, role types.Role) error {
	event, err := l.db.GetEventByExternalId(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("get event: %w", err)
	}

	if event.OwnerId != callerId {
		return ErrNotOrganizer
	}

	if role != types.RoleParticipant && role != types.RoleObserver {
		return ErrInvalidRole
	}

	target, err := l.db.GetParticipation(event.Id, targetId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotRegistered
		}
		return fmt.Errorf("get participation: %w", err)
	}

	if types.Role(target.Role) == types.RoleOrganizer {
		return ErrOrganizerImmutable
	}

	if err := l.db.UpdateParticipationRole(event.Id, targetId, string(role)); err != nil {
		return fmt.Errorf("update role: %w", err)
	}

	return nil
}

// UserEvents lists the events a user holds any role on, the data source for
// client-side snapshots.
func (l *Ledger) UserEvents(userId int) ([]types.UserEvent, error) {
	rows, err := l.db.ListUserEvents(userId)
	if err != nil {
		return nil, fmt.Errorf("list user events: %w", err)
	}

	userEvents := make([]types.UserEvent, 0, len(rows))
	for _, row := range rows {
		userEvents = append(userEvents, types.UserEvent{
			Event: types.Event{
				Id:          row.Event.Id,
				ExternalId:  row.Event.ExternalId,
				Name:        row.Event.Name,
				Description: row.Event.Description,
				Location:    row.Event.Location,
				OwnerId:     row.Event.OwnerId,
				Capacity:    row.Event.Capacity,
				Visibility:  row.Event.Visibility,
				StartsAt:    temporal.ResolveJSON(row.Event.StartsAt),
				CreatedAt:   row.Event.CreatedAt,
			},
			Role:     types.Role(row.Role),
			JoinedAt: temporal.FromTime(row.JoinedAt),
		})
	}

	return userEvents, nil
}
