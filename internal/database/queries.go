package database

import (
	"fmt"
	"time"
)

const createParticipationQuery = "INSERT INTO participations (event_id, account_id, role, created_at, updated_at) " +
	"VALUES ($1, $2, $3, $4, $5) RETURNING id, event_id, account_id, role, created_at"

func (db *PgGamedayRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgGamedayRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgGamedayRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, events_joined, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.EventsJoined,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgGamedayRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, events_joined FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.EventsJoined,
	)

	return user, err
}

// CreateEvent inserts the event and the organizer's participation record in
// a single transaction, so an event can never exist without its organizer
// enrollment.
func (db *PgGamedayRepository) CreateEvent(params CreateEventParams) (Event, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Event{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO events (external_id, name, description, location, owner_id, capacity, visibility, starts_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9) "+
			"RETURNING id, external_id, name, description, location, owner_id, capacity, visibility, starts_at, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.Location,
		params.OwnerId,
		params.Capacity,
		params.Visibility,
		params.StartsAt,
		time.Now().UTC(),
	)

	var event Event
	err = res.Scan(
		&event.Id,
		&event.ExternalId,
		&event.Name,
		&event.Description,
		&event.Location,
		&event.OwnerId,
		&event.Capacity,
		&event.Visibility,
		&event.StartsAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return Event{}, err
	}

	_, err = tx.Exec(
		createParticipationQuery,
		event.Id,
		params.OwnerId,
		"organizer",
		time.Now().UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return Event{}, err
	}

	if err = tx.Commit(); err != nil {
		return Event{}, err
	}

	return event, nil
}

func (db *PgGamedayRepository) GetEventByExternalId(externalId string) (Event, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, location, owner_id, capacity, visibility, starts_at, created_at, updated_at "+
			"FROM events WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var event Event
	err := row.Scan(
		&event.Id,
		&event.ExternalId,
		&event.Name,
		&event.Description,
		&event.Location,
		&event.OwnerId,
		&event.Capacity,
		&event.Visibility,
		&event.StartsAt,
		&event.CreatedAt,
		&event.UpdatedAt,
	)

	return event, err
}

func (db *PgGamedayRepository) DeleteEvent(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM participations WHERE event_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM messages WHERE event_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM events WHERE id = $1", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// JoinEvent performs the capacity check and the participation insert in one
// transaction with the event row locked, so concurrent joins at the capacity
// boundary serialize and only one can take the last slot.
func (db *PgGamedayRepository) JoinEvent(eventId, userId int) (Participation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Participation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var capacity int
	err = tx.QueryRow("SELECT capacity FROM events WHERE id = $1 FOR UPDATE", eventId).Scan(&capacity)
	if err != nil {
		return Participation{}, err
	}

	if capacity > 0 {
		var count int
		err = tx.QueryRow(
			"SELECT COUNT(*) FROM participations WHERE event_id = $1 AND role = 'participant'",
			eventId,
		).Scan(&count)
		if err != nil {
			return Participation{}, err
		}

		if count >= capacity {
			err = ErrEventFull
			return Participation{}, err
		}
	}

	res := tx.QueryRow(
		createParticipationQuery,
		eventId,
		userId,
		"participant",
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var p Participation
	err = res.Scan(&p.Id, &p.EventId, &p.UserId, &p.Role, &p.CreatedAt)
	if err != nil {
		return Participation{}, err
	}

	_, err = tx.Exec("UPDATE accounts SET events_joined = events_joined + 1 WHERE id = $1", userId)
	if err != nil {
		return Participation{}, err
	}

	if err = tx.Commit(); err != nil {
		return Participation{}, err
	}

	return p, nil
}

func (db *PgGamedayRepository) CreateParticipation(eventId, userId int, role string) (Participation, error) {
	res := db.conn.QueryRow(
		createParticipationQuery,
		eventId,
		userId,
		role,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var p Participation
	err := res.Scan(&p.Id, &p.EventId, &p.UserId, &p.Role, &p.CreatedAt)

	return p, err
}

func (db *PgGamedayRepository) GetParticipation(eventId, userId int) (Participation, error) {
	row := db.conn.QueryRow(
		"SELECT p.id, p.event_id, p.account_id, a.username, p.role, p.created_at FROM participations p "+
			"JOIN accounts a ON p.account_id = a.id "+
			"WHERE p.event_id = $1 AND p.account_id = $2 LIMIT 1",
		eventId,
		userId,
	)

	var p Participation
	err := row.Scan(&p.Id, &p.EventId, &p.UserId, &p.Username, &p.Role, &p.CreatedAt)

	return p, err
}

func (db *PgGamedayRepository) ListParticipations(eventId int) ([]Participation, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.event_id, p.account_id, a.username, p.role, p.created_at FROM participations p "+
			"JOIN accounts a ON p.account_id = a.id "+
			"WHERE p.event_id = $1 ORDER BY p.created_at",
		eventId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participations = make([]Participation, 0)
	for rows.Next() {
		var p Participation
		if err = rows.Scan(&p.Id, &p.EventId, &p.UserId, &p.Username, &p.Role, &p.CreatedAt); err != nil {
			break
		}

		participations = append(participations, p)
	}
	return participations, err
}

func (db *PgGamedayRepository) UpdateParticipationRole(eventId, userId int, role string) error {
	_, err := db.conn.Exec(
		"UPDATE participations SET role = $3, updated_at = $4 WHERE event_id = $1 AND account_id = $2",
		eventId,
		userId,
		role,
		time.Now().UTC(),
	)

	return err
}

func (db *PgGamedayRepository) DeleteParticipation(eventId, userId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"DELETE FROM participations WHERE event_id = $1 AND account_id = $2",
		eventId,
		userId,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec("UPDATE accounts SET events_joined = GREATEST(events_joined - 1, 0) WHERE id = $1", userId)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgGamedayRepository) ListUserEvents(userId int) ([]UserEventRow, error) {
	rows, err := db.conn.Query(
		"SELECT e.id, e.external_id, e.name, e.description, e.location, e.owner_id, e.capacity, e.visibility, e.starts_at, e.created_at, "+
			"p.role, p.created_at AS joined_at "+
			"FROM participations p JOIN events e ON e.id = p.event_id "+
			"WHERE p.account_id = $1 ORDER BY e.created_at",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var userEvents []UserEventRow
	for rows.Next() {
		var row UserEventRow
		if err = rows.Scan(
			&row.Event.Id,
			&row.Event.ExternalId,
			&row.Event.Name,
			&row.Event.Description,
			&row.Event.Location,
			&row.Event.OwnerId,
			&row.Event.Capacity,
			&row.Event.Visibility,
			&row.Event.StartsAt,
			&row.Event.CreatedAt,
			&row.Role,
			&row.JoinedAt,
		); err != nil {
			break
		}

		userEvents = append(userEvents, row)
	}
	return userEvents, err
}

func (db *PgGamedayRepository) CreateMessage(msg Message) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (event_id, account_id, content, from_organizer, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, event_id, account_id, content, from_organizer, created_at",
		msg.EventId,
		msg.UserId,
		msg.Content,
		msg.FromOrganizer,
		msg.CreatedAt,
	)

	var created Message
	err := res.Scan(
		&created.Id,
		&created.EventId,
		&created.UserId,
		&created.Content,
		&created.FromOrganizer,
		&created.CreatedAt,
	)

	return created, err
}

func (db *PgGamedayRepository) GetMessage(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.event_id, m.account_id, a.username, m.content, m.from_organizer, m.created_at FROM messages m "+
			"JOIN accounts a ON m.account_id = a.id WHERE m.id = $1 LIMIT 1",
		id,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.EventId,
		&msg.UserId,
		&msg.Username,
		&msg.Content,
		&msg.FromOrganizer,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgGamedayRepository) UpdateMessageContent(id int, content string) error {
	res, err := db.conn.Exec(
		"UPDATE messages SET content = $2, updated_at = $3 WHERE id = $1",
		id,
		content,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("message with id %d not found", id)
	}

	return nil
}

func (db *PgGamedayRepository) DeleteMessage(id int) error {
	_, err := db.conn.Exec("DELETE FROM messages WHERE id = $1", id)

	return err
}

// GetMessages returns a page of messages newest-first.
func (db *PgGamedayRepository) GetMessages(eventId, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.event_id, m.account_id, a.username, m.content, m.from_organizer, m.created_at FROM messages m "+
			"JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.event_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT $2 OFFSET $3",
		eventId,
		limit,
		offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.EventId, &msg.UserId, &msg.Username, &msg.Content, &msg.FromOrganizer, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}

// GetEventMessages returns the complete message set for an event in
// ascending arrival order, the raw input for the channel's re-sorted
// deliveries.
func (db *PgGamedayRepository) GetEventMessages(eventId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.event_id, m.account_id, a.username, m.content, m.from_organizer, m.created_at FROM messages m "+
			"JOIN accounts a ON m.account_id = a.id "+
			"WHERE m.event_id = $1 ORDER BY m.created_at, m.id",
		eventId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.EventId, &msg.UserId, &msg.Username, &msg.Content, &msg.FromOrganizer, &msg.CreatedAt); err != nil {
			break
		}

		messages = append(messages, msg)
	}
	return messages, err
}
