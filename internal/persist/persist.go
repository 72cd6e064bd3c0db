package persist

import (
	"encoding/json"
	"fmt"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

// Keys under which the engine persists state. The active ride id is read by
// the background location watcher, which runs outside the in-memory store.
const (
	keyOnline       = "online"
	keyNavPref      = "nav_preference"
	keyHistory      = "history"
	keyActiveRideID = "active_ride_id"

	// One-time marker: an earlier release cached a corrupted history array;
	// the first run after upgrade purges it exactly once.
	keyHistoryReset = "history_reset.v2"
)

// KV is the minimal key-value contract the stores implement.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Store wraps a KV with the engine's typed accessors. History is sanitized
// on write: completed rides only, deduplicated by id.
type Store struct {
	kv KV
}

func NewStore(kv KV) (*Store, error) {
	s := &Store{kv: kv}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("persist migrate: %w", err)
	}
	return s, nil
}

// migrate purges the corrupted pre-v2 history cache once, then records the
// marker so the purge never repeats.
func (s *Store) migrate() error {
	_, done, err := s.kv.Get(keyHistoryReset)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := s.kv.Delete(keyHistory); err != nil {
		return err
	}
	return s.kv.Set(keyHistoryReset, "1")
}

func (s *Store) Online() (bool, error) {
	v, ok, err := s.kv.Get(keyOnline)
	if err != nil || !ok {
		return false, err
	}
	return v == "1", nil
}

func (s *Store) SetOnline(online bool) error {
	if online {
		return s.kv.Set(keyOnline, "1")
	}
	return s.kv.Set(keyOnline, "0")
}

func (s *Store) NavPreference() (string, error) {
	v, _, err := s.kv.Get(keyNavPref)
	return v, err
}

func (s *Store) SetNavPreference(app string) error {
	return s.kv.Set(keyNavPref, app)
}

func (s *Store) ActiveRideID() (string, error) {
	v, _, err := s.kv.Get(keyActiveRideID)
	return v, err
}

func (s *Store) SetActiveRideID(id string) error {
	if id == "" {
		return s.kv.Delete(keyActiveRideID)
	}
	return s.kv.Set(keyActiveRideID, id)
}

// History loads the sanitized ride history. Entries that are not completed
// are filtered out on load as well, guarding against writes from older
// builds.
func (s *Store) History() ([]*models.Ride, error) {
	v, ok, err := s.kv.Get(keyHistory)
	if err != nil || !ok {
		return nil, err
	}
	var rides []*models.Ride
	if err := json.Unmarshal([]byte(v), &rides); err != nil {
		// a corrupted cache is dropped, not fatal
		return nil, nil
	}
	return sanitize(rides), nil
}

// SetHistory persists the history after sanitizing it.
func (s *Store) SetHistory(rides []*models.Ride) error {
	b, err := json.Marshal(sanitize(rides))
	if err != nil {
		return err
	}
	return s.kv.Set(keyHistory, string(b))
}

func (s *Store) Close() error { return s.kv.Close() }

func sanitize(rides []*models.Ride) []*models.Ride {
	seen := make(map[string]bool, len(rides))
	out := make([]*models.Ride, 0, len(rides))
	for _, r := range rides {
		if r == nil || r.Status != status.Completed {
			continue
		}
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out
}
