package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/api"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/observability"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/persist"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

var (
	ErrActionInFlight    = errors.New("another action is pending for this ride")
	ErrUnknownOffer      = errors.New("offer not present in the offer set")
	ErrNoCurrentRide     = errors.New("no current ride")
	ErrInvalidTransition = errors.New("ride is not in the required status")
)

// Backend is the slice of the REST client the store depends on; tests plug
// in fakes.
type Backend interface {
	CurrentRide(ctx context.Context) (*models.Ride, error)
	NextOffers(ctx context.Context) ([]*models.Ride, error)
	Accept(ctx context.Context, rideID string) error
	Decline(ctx context.Context, rideID string) error
	Arrived(ctx context.Context, rideID string) error
	Start(ctx context.Context, rideID string) error
	StartStop(ctx context.Context, rideID string) (*models.StopResult, error)
	EndStop(ctx context.Context, rideID string) (*models.StopResult, error)
	Complete(ctx context.Context, rideID string) (*models.CompletionResult, error)
	CompletedRides(ctx context.Context, perPage int) ([]*models.Ride, error)
}

// Notifier surfaces user-facing failure alerts; the daemon wires a logging
// implementation, a UI would wire its own.
type Notifier interface {
	Alert(msg string)
}

// Archiver optionally mirrors completed rides to an external sink after a
// history merge. Failures are logged, never block the merge.
type Archiver interface {
	SaveCompleted(ctx context.Context, rides []*models.Ride) error
}

// Options configures a Store. Backend, Persist and Logger are required.
type Options struct {
	Backend         Backend
	Persist         *persist.Store
	Logger          *slog.Logger
	Notifier        Notifier
	Archiver        Archiver
	OnUnauthorized  func()
	HistoryPageSize int
	// StaleAfter bounds how long a 204-preserved non-terminal ride may be
	// kept alive without the server confirming it. Zero disables the bound.
	StaleAfter time.Duration
}

// Store owns the current ride, the offer set and the ride history. It is
// the single mutable authority for ride state; every other component either
// feeds it (scheduler, realtime) or reads from it (control API, reporter).
// One instance per process.
type Store struct {
	mu       sync.Mutex
	current  *models.Ride
	offers   []*models.Ride
	history  []*models.Ride
	inflight map[string]bool
	declined map[string]time.Time

	backend         Backend
	persist         *persist.Store
	log             *slog.Logger
	notify          Notifier
	archive         Archiver
	onUnauthorized  func()
	historyPageSize int
	staleAfter      time.Duration
	now             func() time.Time
}

func New(opts Options) (*Store, error) {
	if opts.Backend == nil || opts.Persist == nil || opts.Logger == nil {
		return nil, errors.New("store: backend, persist and logger are required")
	}
	s := &Store{
		inflight:        make(map[string]bool),
		declined:        make(map[string]time.Time),
		backend:         opts.Backend,
		persist:         opts.Persist,
		log:             opts.Logger,
		notify:          opts.Notifier,
		archive:         opts.Archiver,
		onUnauthorized:  opts.OnUnauthorized,
		historyPageSize: opts.HistoryPageSize,
		staleAfter:      opts.StaleAfter,
		now:             time.Now,
	}
	if s.historyPageSize <= 0 {
		s.historyPageSize = 20
	}
	history, err := opts.Persist.History()
	if err != nil {
		return nil, err
	}
	s.history = history
	return s, nil
}

// CurrentRide returns a copy of the current-ride slot, nil when empty.
func (s *Store) CurrentRide() *models.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Offers returns a copy of the offer set.
func (s *Store) Offers() []*models.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRides(s.offers)
}

// History returns a copy of the local ride history.
func (s *Store) History() []*models.Ride {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRides(s.history)
}

// SyncCurrentRide reconciles the current-ride slot against the backend
// snapshot. A 204 while the local ride is non-terminal preserves the local
// ride, guarding against transient server gaps mid-transition; the
// staleness bound keeps an orphaned ride from living forever.
func (s *Store) SyncCurrentRide(ctx context.Context) error {
	ride, err := s.backend.CurrentRide(ctx)
	if err != nil {
		s.handleAuth(err)
		observability.PollsTotal.WithLabelValues("current_ride", "error").Inc()
		s.log.Warn("current-ride poll failed", "error", err)
		return err
	}
	observability.PollsTotal.WithLabelValues("current_ride", "ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ride == nil {
		if s.current != nil && !s.current.Status.Terminal() {
			if s.staleAfter > 0 && s.now().Sub(s.current.ReceivedAt) > s.staleAfter {
				s.log.Warn("dropping stale preserved ride", "ride_id", s.current.ID)
				s.setCurrentLocked(nil)
			}
			// otherwise preserve: the server may be mid-transition
			return nil
		}
		s.setCurrentLocked(nil)
		return nil
	}
	s.setCurrentLocked(ride)
	return nil
}

// CheckForIncomingOffer merges the backend's pending offers additively into
// the offer set. Existing offers are never replaced; only canonical
// incoming rides are admitted; declined ids are not resurrected.
func (s *Store) CheckForIncomingOffer(ctx context.Context) error {
	fetched, err := s.backend.NextOffers(ctx)
	if err != nil {
		s.handleAuth(err)
		observability.PollsTotal.WithLabelValues("offers", "error").Inc()
		s.log.Warn("offer poll failed", "error", err)
		return err
	}
	observability.PollsTotal.WithLabelValues("offers", "ok").Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneDeclinedLocked()
	for _, offer := range fetched {
		if offer.Status != status.Incoming {
			continue
		}
		if _, seen := s.declined[offer.ID]; seen {
			continue
		}
		if s.current != nil && s.current.ID == offer.ID {
			continue
		}
		if s.findOfferLocked(offer.ID) >= 0 {
			continue
		}
		if offer.ReceivedAt.IsZero() {
			offer.ReceivedAt = s.now()
		}
		s.offers = append(s.offers, offer)
		observability.OffersReceived.Inc()
		s.log.Info("offer received", "ride_id", offer.ID, "service_type", offer.ServiceType)
	}
	return nil
}

// RemoveCancelledRide handles a server-confirmed cancellation: the id
// leaves the offer set, and a matching current ride is cleared
// unconditionally. There is nothing to roll back, the fact is terminal.
func (s *Store) RemoveCancelledRide(rideID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findOfferLocked(rideID); i >= 0 {
		s.offers = append(s.offers[:i], s.offers[i+1:]...)
		s.log.Info("offer cancelled by server", "ride_id", rideID)
	}
	if s.current != nil && s.current.ID == rideID {
		s.setCurrentLocked(nil)
		s.log.Info("current ride cancelled by server", "ride_id", rideID)
	}
}

// ExpireOffers auto-declines offers older than maxAge. The backend decline
// is best-effort; local removal is what matters.
func (s *Store) ExpireOffers(ctx context.Context, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	s.mu.Lock()
	var expired []string
	kept := s.offers[:0]
	for _, o := range s.offers {
		if s.now().Sub(o.ReceivedAt) > maxAge {
			expired = append(expired, o.ID)
			s.declined[o.ID] = s.now()
			continue
		}
		kept = append(kept, o)
	}
	s.offers = kept
	s.mu.Unlock()

	for _, id := range expired {
		observability.OffersExpired.Inc()
		s.log.Info("offer expired, auto-declining", "ride_id", id)
		if err := s.backend.Decline(ctx, id); err != nil {
			s.handleAuth(err)
			s.log.Warn("auto-decline failed", "ride_id", id, "error", err)
		}
	}
}

// LoadHistoryFromBackend merges one page of server-side completed rides
// into local history. Terminal entries win over same-id non-terminal stubs;
// local-only completions not yet known to the server are preserved.
func (s *Store) LoadHistoryFromBackend(ctx context.Context) error {
	fetched, err := s.backend.CompletedRides(ctx, s.historyPageSize)
	if err != nil {
		s.handleAuth(err)
		observability.PollsTotal.WithLabelValues("history", "error").Inc()
		return err
	}
	observability.PollsTotal.WithLabelValues("history", "ok").Inc()

	s.mu.Lock()
	s.history = mergeHistory(s.history, fetched)
	merged := cloneRides(s.history)
	s.mu.Unlock()

	if err := s.persist.SetHistory(merged); err != nil {
		s.log.Warn("persisting history failed", "error", err)
	}
	if s.archive != nil {
		if err := s.archive.SaveCompleted(ctx, merged); err != nil {
			s.log.Warn("history archive failed", "error", err)
		}
	}
	return nil
}

// ApplyRating records the rider's rating and tip for a ride already in
// history (private ride channel).
func (s *Store) ApplyRating(rideID string, rating, tip *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.history {
		if r.ID == rideID {
			r.Rating = rating
			r.Tip = tip
			return
		}
	}
}

// ConfirmPayment marks a completed ride as paid (private ride channel).
func (s *Store) ConfirmPayment(rideID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.history {
		if r.ID == rideID {
			r.PaymentConfirmed = true
			return
		}
	}
}

// mergeHistory applies the id-dedup merge: a fetched completed ride
// replaces a same-id non-terminal stub, an already-terminal local entry is
// kept, and everything local-only survives.
func mergeHistory(local, fetched []*models.Ride) []*models.Ride {
	index := make(map[string]int, len(local))
	out := make([]*models.Ride, len(local))
	copy(out, local)
	for i, r := range out {
		index[r.ID] = i
	}
	for _, f := range fetched {
		if f.Status != status.Completed {
			continue
		}
		if i, ok := index[f.ID]; ok {
			if !out[i].Status.Terminal() {
				out[i] = f
			}
			continue
		}
		index[f.ID] = len(out)
		out = append(out, f)
	}
	return out
}

// setCurrentLocked swaps the current-ride slot and mirrors the bare ride id
// into persistence for the background location watcher.
func (s *Store) setCurrentLocked(r *models.Ride) {
	s.current = r
	id := ""
	if r != nil {
		id = r.ID
	}
	if err := s.persist.SetActiveRideID(id); err != nil {
		s.log.Warn("persisting active ride id failed", "error", err)
	}
}

func (s *Store) findOfferLocked(id string) int {
	for i, o := range s.offers {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) pruneDeclinedLocked() {
	cutoff := s.now().Add(-time.Hour)
	for id, at := range s.declined {
		if at.Before(cutoff) {
			delete(s.declined, id)
		}
	}
}

// handleAuth routes any 401 to the central unauthorized hook.
func (s *Store) handleAuth(err error) {
	if errors.Is(err, api.ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized()
	}
}

func (s *Store) alert(msg string) {
	if s.notify != nil {
		s.notify.Alert(msg)
	}
}

func cloneRides(rides []*models.Ride) []*models.Ride {
	out := make([]*models.Ride, len(rides))
	for i, r := range rides {
		out[i] = r.Clone()
	}
	return out
}
