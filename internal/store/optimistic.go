package store

import (
	"context"
	"fmt"
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/observability"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

// Every driver-initiated transition runs through runOptimistic:
// snapshot -> apply locally -> backend call -> rollback on failure or
// reconcile server-authoritative fields on success. The in-flight guard
// rejects a second action on the same ride while the first is pending, so
// a double-tap can never race a rollback.

type snapshot struct {
	current *models.Ride
	offers  []*models.Ride
}

func (s *Store) takeSnapshotLocked() snapshot {
	return snapshot{current: s.current.Clone(), offers: cloneRides(s.offers)}
}

func (s *Store) restoreLocked(snap snapshot) {
	s.setCurrentLocked(snap.current)
	s.offers = snap.offers
}

func (s *Store) runOptimistic(
	ctx context.Context,
	action, rideID string,
	apply func() error,
	call func(context.Context) error,
	reconcile func(),
	alertOnFail bool,
) error {
	s.mu.Lock()
	if s.inflight[rideID] {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", action, rideID, ErrActionInFlight)
	}
	snap := s.takeSnapshotLocked()
	if err := apply(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", action, rideID, err)
	}
	s.inflight[rideID] = true
	s.mu.Unlock()

	err := call(ctx)

	s.mu.Lock()
	delete(s.inflight, rideID)
	if err != nil {
		s.restoreLocked(snap)
		s.mu.Unlock()
		observability.ActionsTotal.WithLabelValues(action, "rolled_back").Inc()
		observability.RollbacksTotal.Inc()
		s.handleAuth(err)
		s.log.Warn("action failed, state rolled back", "action", action, "ride_id", rideID, "error", err)
		if alertOnFail {
			s.alert(action + " failed, please retry")
		}
		return fmt.Errorf("%s %s: %w", action, rideID, err)
	}
	if reconcile != nil {
		reconcile()
	}
	s.mu.Unlock()
	observability.ActionsTotal.WithLabelValues(action, "ok").Inc()
	s.log.Info("action confirmed", "action", action, "ride_id", rideID)
	return nil
}

// AcceptRequest promotes an offer into the current-ride slot with status
// pickup. The error propagates so the UI can react (no alert here).
func (s *Store) AcceptRequest(ctx context.Context, rideID string) error {
	return s.runOptimistic(ctx, "accept", rideID,
		func() error {
			if s.current != nil {
				return fmt.Errorf("current ride %s occupies the slot: %w", s.current.ID, ErrInvalidTransition)
			}
			i := s.findOfferLocked(rideID)
			if i < 0 {
				return ErrUnknownOffer
			}
			promoted := s.offers[i].Clone()
			promoted.Status = status.Pickup
			s.offers = append(s.offers[:i], s.offers[i+1:]...)
			s.setCurrentLocked(promoted)
			return nil
		},
		func(ctx context.Context) error { return s.backend.Accept(ctx, rideID) },
		nil,
		false,
	)
}

// DeclineRequest removes an offer; the backend decline is confirmed before
// the removal sticks, otherwise the offer reappears.
func (s *Store) DeclineRequest(ctx context.Context, rideID string) error {
	return s.runOptimistic(ctx, "decline", rideID,
		func() error {
			i := s.findOfferLocked(rideID)
			if i < 0 {
				return ErrUnknownOffer
			}
			s.offers = append(s.offers[:i], s.offers[i+1:]...)
			return nil
		},
		func(ctx context.Context) error { return s.backend.Decline(ctx, rideID) },
		func() { s.declined[rideID] = s.now() },
		false,
	)
}

// SignalArrival moves pickup -> arrived with a client timestamp.
func (s *Store) SignalArrival(ctx context.Context) error {
	rideID, err := s.requireCurrent(status.Pickup)
	if err != nil {
		return err
	}
	return s.runOptimistic(ctx, "arrive", rideID,
		func() error {
			if err := s.checkCurrentLocked(rideID, status.Pickup); err != nil {
				return err
			}
			now := s.now()
			s.current.Status = status.Arrived
			s.current.ArrivedAt = &now
			return nil
		},
		func(ctx context.Context) error { return s.backend.Arrived(ctx, rideID) },
		nil,
		true,
	)
}

// SetPickupDone moves arrived -> ongoing and stamps the trip start.
func (s *Store) SetPickupDone(ctx context.Context) error {
	rideID, err := s.requireCurrent(status.Arrived)
	if err != nil {
		return err
	}
	return s.runOptimistic(ctx, "start", rideID,
		func() error {
			if err := s.checkCurrentLocked(rideID, status.Arrived); err != nil {
				return err
			}
			now := s.now()
			s.current.Status = status.Ongoing
			s.current.StartedAt = &now
			return nil
		},
		func(ctx context.Context) error { return s.backend.Start(ctx, rideID) },
		nil,
		true,
	)
}

// StartStop begins the stop timer. The server's exact stop_started_at wins
// over the optimistic client timestamp.
func (s *Store) StartStop(ctx context.Context) error {
	rideID, err := s.requireCurrentAny()
	if err != nil {
		return err
	}
	var result *models.StopResult
	return s.runOptimistic(ctx, "start_stop", rideID,
		func() error {
			if s.current == nil || s.current.ID != rideID {
				return ErrNoCurrentRide
			}
			if s.current.StopStartedAt != nil {
				return fmt.Errorf("stop already running: %w", ErrInvalidTransition)
			}
			now := s.now()
			s.current.StopStartedAt = &now
			return nil
		},
		func(ctx context.Context) error {
			var err error
			result, err = s.backend.StartStop(ctx, rideID)
			return err
		},
		func() {
			if result != nil && s.current != nil && s.current.ID == rideID {
				if result.StopStartedAt != nil {
					s.current.StopStartedAt = result.StopStartedAt
				}
				if result.TotalStopSeconds > 0 {
					s.current.TotalStopSeconds = result.TotalStopSeconds
				}
			}
		},
		true,
	)
}

// EndStop closes the stop timer and folds the elapsed time into the
// cumulative total; server values reconcile the optimistic math.
func (s *Store) EndStop(ctx context.Context) error {
	rideID, err := s.requireCurrentAny()
	if err != nil {
		return err
	}
	var result *models.StopResult
	return s.runOptimistic(ctx, "end_stop", rideID,
		func() error {
			if s.current == nil || s.current.ID != rideID {
				return ErrNoCurrentRide
			}
			if s.current.StopStartedAt == nil {
				return fmt.Errorf("no stop running: %w", ErrInvalidTransition)
			}
			s.current.TotalStopSeconds += int64(s.now().Sub(*s.current.StopStartedAt) / time.Second)
			s.current.StopStartedAt = nil
			return nil
		},
		func(ctx context.Context) error {
			var err error
			result, err = s.backend.EndStop(ctx, rideID)
			return err
		},
		func() {
			if result != nil && s.current != nil && s.current.ID == rideID {
				s.current.StopStartedAt = result.StopStartedAt
				if result.TotalStopSeconds > 0 {
					s.current.TotalStopSeconds = result.TotalStopSeconds
				}
			}
		},
		true,
	)
}

// CompleteRide moves ongoing -> completed. On success the server's fare
// breakdown wins, the ride moves into history, the slot clears and history
// is persisted. The completion result (payment link) goes back to the UI.
func (s *Store) CompleteRide(ctx context.Context) (*models.CompletionResult, error) {
	rideID, err := s.requireCurrent(status.Ongoing)
	if err != nil {
		return nil, err
	}
	var result *models.CompletionResult
	err = s.runOptimistic(ctx, "complete", rideID,
		func() error {
			if err := s.checkCurrentLocked(rideID, status.Ongoing); err != nil {
				return err
			}
			now := s.now()
			s.current.Status = status.Completed
			s.current.CompletedAt = &now
			return nil
		},
		func(ctx context.Context) error {
			var err error
			result, err = s.backend.Complete(ctx, rideID)
			return err
		},
		func() {
			if s.current == nil || s.current.ID != rideID {
				return
			}
			done := s.current
			if result != nil {
				if result.Fare > 0 {
					done.Fare = result.Fare
				}
				if result.DriverEarnings != nil {
					done.DriverEarnings = result.DriverEarnings
				}
			}
			s.history = mergeHistory(s.history, []*models.Ride{done})
			s.setCurrentLocked(nil)
		},
		true,
	)
	if err != nil {
		return nil, err
	}
	if perr := s.persist.SetHistory(s.History()); perr != nil {
		s.log.Warn("persisting history failed", "error", perr)
	}
	return result, nil
}

// requireCurrent reads the current ride id under lock and verifies the
// expected status before the optimistic apply re-verifies it.
func (s *Store) requireCurrent(want status.Status) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", ErrNoCurrentRide
	}
	if s.current.Status != want {
		return "", fmt.Errorf("status is %s, want %s: %w", s.current.Status, want, ErrInvalidTransition)
	}
	return s.current.ID, nil
}

func (s *Store) requireCurrentAny() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", ErrNoCurrentRide
	}
	if s.current.Status.Terminal() {
		return "", fmt.Errorf("ride already %s: %w", s.current.Status, ErrInvalidTransition)
	}
	return s.current.ID, nil
}

func (s *Store) checkCurrentLocked(rideID string, want status.Status) error {
	if s.current == nil || s.current.ID != rideID {
		return ErrNoCurrentRide
	}
	if s.current.Status != want {
		return fmt.Errorf("status is %s, want %s: %w", s.current.Status, want, ErrInvalidTransition)
	}
	return nil
}
