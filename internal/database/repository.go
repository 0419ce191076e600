package database

import "errors"

// ErrEventFull is returned by JoinEvent when the capacity check inside the
// join transaction fails. The event row is locked for the duration of the
// check-and-insert, so two racing joins cannot both pass it.
var ErrEventFull = errors.New("event is at capacity")

type GamedayRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	UpdateAccount(params UpdateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)

	CreateEvent(params CreateEventParams) (Event, error)
	GetEventByExternalId(externalId string) (Event, error)
	DeleteEvent(id int) error

	JoinEvent(eventId, userId int) (Participation, error)
	CreateParticipation(eventId, userId int, role string) (Participation, error)
	GetParticipation(eventId, userId int) (Participation, error)
	ListParticipations(eventId int) ([]Participation, error)
	UpdateParticipationRole(eventId, userId int, role string) error
	DeleteParticipation(eventId, userId int) error
	ListUserEvents(userId int) ([]UserEventRow, error)

	CreateMessage(msg Message) (Message, error)
	GetMessage(id int) (Message, error)
	UpdateMessageContent(id int, content string) error
	DeleteMessage(id int) error
	GetMessages(eventId, limit, offset int) ([]Message, error)
	GetEventMessages(eventId int) ([]Message, error)
}
