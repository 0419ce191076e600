package database

import (
	"github.com/stretchr/testify/mock"
)

type MockGamedayRepository struct {
	mock.Mock
}

func (m *MockGamedayRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGamedayRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGamedayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGamedayRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGamedayRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGamedayRepository) CreateEvent(params CreateEventParams) (Event, error) {
	args := m.Called(params)
	return args.Get(0).(Event), args.Error(1)
}
func (m *MockGamedayRepository) GetEventByExternalId(externalId string) (Event, error) {
	args := m.Called(externalId)
	return args.Get(0).(Event), args.Error(1)
}
func (m *MockGamedayRepository) DeleteEvent(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGamedayRepository) JoinEvent(eventId, userId int) (Participation, error) {
	args := m.Called(eventId, userId)
	return args.Get(0).(Participation), args.Error(1)
}
func (m *MockGamedayRepository) CreateParticipation(eventId, userId int, role string) (Participation, error) {
	args := m.Called(eventId, userId, role)
	return args.Get(0).(Participation), args.Error(1)
}
func (m *MockGamedayRepository) GetParticipation(eventId, userId int) (Participation, error) {
	args := m.Called(eventId, userId)
	return args.Get(0).(Participation), args.Error(1)
}
func (m *MockGamedayRepository) ListParticipations(eventId int) ([]Participation, error) {
	args := m.Called(eventId)
	return args.Get(0).([]Participation), args.Error(1)
}
func (m *MockGamedayRepository) UpdateParticipationRole(eventId, userId int, role string) error {
	args := m.Called(eventId, userId, role)
	return args.Error(0)
}
func (m *MockGamedayRepository) DeleteParticipation(eventId, userId int) error {
	args := m.Called(eventId, userId)
	return args.Error(0)
}
func (m *MockGamedayRepository) ListUserEvents(userId int) ([]UserEventRow, error) {
	args := m.Called(userId)
	return args.Get(0).([]UserEventRow), args.Error(1)
}
func (m *MockGamedayRepository) CreateMessage(msg Message) (Message, error) {
	args := m.Called(msg)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGamedayRepository) GetMessage(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGamedayRepository) UpdateMessageContent(id int, content string) error {
	args := m.Called(id, content)
	return args.Error(0)
}
func (m *MockGamedayRepository) DeleteMessage(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGamedayRepository) GetMessages(eventId, limit, offset int) ([]Message, error) {
	args := m.Called(eventId, limit, offset)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGamedayRepository) GetEventMessages(eventId int) ([]Message, error) {
	args := m.Called(eventId)
	return args.Get(0).([]Message), args.Error(1)
}
