package types

import (
	"time"

	"github.com/gamedayhq/gameday/internal/temporal"
)

// Role is a user's standing on an event. Observer is reserved on the wire
// but no transition currently produces it.
type Role string

const (
	RoleNone        Role = ""
	RoleOrganizer   Role = "organizer"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	EventsJoined int       `json:"events_joined"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Event struct {
	Id          int              `json:"id"`
	ExternalId  string           `json:"external_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Location    string           `json:"location"`
	OwnerId     int              `json:"owner_id"`
	Capacity    int              `json:"capacity"` // 0 means unbounded
	Visibility  string           `json:"visibility"`
	StartsAt    temporal.Instant `json:"starts_at"`
	CreatedAt   time.Time        `json:"created_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at,omitempty"`
}

type Participation struct {
	EventId  int              `json:"event_id"`
	UserId   int              `json:"user_id"`
	Username string           `json:"username,omitempty"`
	Role     Role             `json:"role"`
	JoinedAt temporal.Instant `json:"joined_at"`
}

// EventStats is the aggregate view of an event's participation returned by
// the stats endpoint.
type EventStats struct {
	TotalParticipants int             `json:"total_participants"`
	Organizer         *Participation  `json:"organizer"`
	Participants      []Participation `json:"participants"`
	UserRole          Role            `json:"user_role"`
}

type Message struct {
	Id       int    `json:"id"`
	EventId  string `json:"event_id"`
	UserId   int    `json:"user_id"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content"`
	// IsOrganizer is recomputed from the ledger at delivery time.
	// FromOrganizer is the write-time denormalization kept only as a
	// display fallback.
	IsOrganizer   bool             `json:"is_organizer"`
	FromOrganizer bool             `json:"from_organizer"`
	Timestamp     temporal.Instant `json:"timestamp"`
}

// UserEvent is a denormalized event plus the user's participation in it,
// the row shape served to the offline snapshot.
type UserEvent struct {
	Event    Event            `json:"event"`
	Role     Role             `json:"role"`
	JoinedAt temporal.Instant `json:"joined_at"`
}
