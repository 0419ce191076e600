// Package offline mirrors a user's events as a single client-side snapshot.
// The snapshot is non-authoritative: it is replaced wholesale on every save
// and re-validated for ownership and age before any read.
package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"time"

	"github.com/gamedayhq/gameday/internal/temporal"
	"github.com/gamedayhq/gameday/internal/types"
)

const snapshotTTL = 7 * 24 * time.Hour

// CachedEvent is one denormalized event entry in the snapshot blob.
type CachedEvent struct {
	Id          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartsAt    string     `json:"starts_at"`
	Capacity    int        `json:"capacity"`
	UserRole    types.Role `json:"user_role"`
	JoinedAt    string     `json:"joined_at"`
	CachedAt    string     `json:"cached_at"`
}

type Snapshot struct {
	Events   []CachedEvent `json:"events"`
	LastSync string        `json:"last_sync"`
	UserId   string        `json:"user_id"`
}

// Info is a read-only summary of the cache state.
type Info struct {
	HasCache   bool             `json:"has_cache"`
	EventCount int              `json:"event_count"`
	LastSync   temporal.Instant `json:"last_sync,omitempty"`
	Age        time.Duration    `json:"age,omitempty"`
}

type Cache struct {
	log     *log.Logger
	storage Storage
}

func NewCache(logger *log.Logger, storage Storage) *Cache {
	return &Cache{
		log:     logger,
		storage: storage,
	}
}

// Save replaces the entire snapshot for userId: created events are tagged
// organizer, joined events keep their recorded role. There is no incremental
// merge, a save is always a full overwrite.
func (c *Cache) Save(userId int, created []types.Event, joined []types.UserEvent) error {
	now := temporal.Now()

	snapshot := Snapshot{
		Events:   make([]CachedEvent, 0, len(created)+len(joined)),
		LastSync: now.Format(),
		UserId:   strconv.Itoa(userId),
	}

	for _, event := range created {
		snapshot.Events = append(snapshot.Events, CachedEvent{
			Id:          event.ExternalId,
			Name:        event.Name,
			Description: event.Description,
			Location:    event.Location,
			StartsAt:    event.StartsAt.Format(),
			Capacity:    event.Capacity,
			UserRole:    types.RoleOrganizer,
			JoinedAt:    temporal.FromTime(event.CreatedAt).Format(),
			CachedAt:    now.Format(),
		})
	}

	for _, ue := range joined {
		snapshot.Events = append(snapshot.Events, CachedEvent{
			Id:          ue.Event.ExternalId,
			Name:        ue.Event.Name,
			Description: ue.Event.Description,
			Location:    ue.Event.Location,
			StartsAt:    ue.Event.StartsAt.Format(),
			Capacity:    ue.Event.Capacity,
			UserRole:    ue.Role,
			JoinedAt:    ue.JoinedAt.Format(),
			CachedAt:    now.Format(),
		})
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := c.storage.Write(data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// Load returns the snapshot for userId, or nil when none exists, when the
// stored snapshot belongs to another user, or when it is older than the
// retention window. An expired snapshot is deleted on the way out.
func (c *Cache) Load(userId int) (*Snapshot, error) {
	data, err := c.storage.Read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		c.log.Printf("discarding unreadable snapshot: %v", err)
		return nil, nil
	}

	if snapshot.UserId != strconv.Itoa(userId) {
		c.log.Printf("snapshot ownership mismatch, refusing read")
		return nil, nil
	}

	lastSync := temporal.ResolveJSON(strconv.Quote(snapshot.LastSync))
	if temporal.Now().Time().Sub(lastSync.Time()) > snapshotTTL {
		c.log.Printf("snapshot expired, deleting")
		if err := c.storage.Delete(); err != nil {
			c.log.Printf("delete expired snapshot: %v", err)
		}
		return nil, nil
	}

	return &snapshot, nil
}

// Clear wipes the snapshot regardless of who owns it.
func (c *Cache) Clear() error {
	if err := c.storage.Delete(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Info summarizes the cache for display without exposing its contents.
func (c *Cache) Info(userId int) Info {
	snapshot, err := c.Load(userId)
	if err != nil || snapshot == nil {
		return Info{}
	}

	lastSync := temporal.ResolveJSON(strconv.Quote(snapshot.LastSync))
	return Info{
		HasCache:   true,
		EventCount: len(snapshot.Events),
		LastSync:   lastSync,
		Age:        temporal.Now().Time().Sub(lastSync.Time()),
	}
}
