package participation

import "errors"

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrAlreadyRegistered    = errors.New("already registered for event")
	ErrSelfJoinAsOrganizer  = errors.New("organizers are enrolled automatically and cannot join")
	ErrCapacityExceeded     = errors.New("event is full")
	ErrNotRegistered        = errors.New("not registered for event")
	ErrOrganizerCannotLeave = errors.New("organizer cannot leave their own event")
	ErrNotOrganizer         = errors.New("only the organizer may do this")
	ErrInvalidRole          = errors.New("invalid role")
	ErrOrganizerImmutable   = errors.New("organizer role cannot be changed")
)
