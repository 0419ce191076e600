package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	EventsJoined int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Event struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	Location    string
	OwnerId     int
	Capacity    int
	Visibility  string
	// StartsAt is stored in whatever wire shape the writer used (ISO
	// string, epoch number, timestamp object). Resolved on read via
	// temporal.ResolveJSON, never compared raw.
	StartsAt  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Participation struct {
	Id        int
	EventId   int
	UserId    int
	Username  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	Id            int
	EventId       int
	UserId        int
	Username      string
	Content       string
	FromOrganizer bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type UserEventRow struct {
	Event    Event
	Role     string
	JoinedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreateEventParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Capacity    int    `json:"capacity"`
	Visibility  string `json:"visibility"`
	StartsAt    string `json:"starts_at"`
	OwnerId     int    `json:"-"`
	ExternalId  string `json:"external_id"`
}
