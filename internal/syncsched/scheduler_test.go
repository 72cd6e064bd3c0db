package syncsched

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSyncer struct {
	ridePolls  int
	offerPolls int
	expires    int
}

func (c *countingSyncer) SyncCurrentRide(ctx context.Context) error { c.ridePolls++; return nil }

func (c *countingSyncer) CheckForIncomingOffer(ctx context.Context) error {
	c.offerPolls++
	return nil
}

func (c *countingSyncer) ExpireOffers(ctx context.Context, maxAge time.Duration) { c.expires++ }

type fixedProbe struct{ connected bool }

func (p *fixedProbe) Connected() bool { return p.connected }

func newTestScheduler(syncer Syncer, probe ConnectionProbe) (*Scheduler, *time.Time) {
	s := New(syncer, probe, Options{
		Tick:                5 * time.Second,
		CurrentRideInterval: 15 * time.Second,
		OfferFast:           10 * time.Second,
		OfferSlow:           60 * time.Second,
		OfferTTL:            45 * time.Second,
	}, slog.New(slog.DiscardHandler))
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestEffectiveIntervalAdaptsToConnection(t *testing.T) {
	probe := &fixedProbe{}
	s, _ := newTestScheduler(&countingSyncer{}, probe)

	probe.connected = false
	assert.Equal(t, 10*time.Second, s.effectiveOfferInterval())
	probe.connected = true
	assert.Equal(t, 60*time.Second, s.effectiveOfferInterval())
}

func TestEffectiveIntervalClamped(t *testing.T) {
	probe := &fixedProbe{}
	s := New(&countingSyncer{}, probe, Options{OfferFast: 10 * time.Second, OfferSlow: 60 * time.Second}, slog.New(slog.DiscardHandler))

	// flap the connection; the interval must stay inside [fast, slow]
	for i := 0; i < 10; i++ {
		probe.connected = i%2 == 0
		iv := s.effectiveOfferInterval()
		assert.GreaterOrEqual(t, iv, 10*time.Second)
		assert.LessOrEqual(t, iv, 60*time.Second)
	}
}

func TestTickGatesPollsByTimestamp(t *testing.T) {
	syncer := &countingSyncer{}
	probe := &fixedProbe{connected: true}
	s, now := newTestScheduler(syncer, probe)
	ctx := context.Background()

	// first tick fires both polls (timestamps are zero)
	s.tick(ctx)
	assert.Equal(t, 1, syncer.ridePolls)
	assert.Equal(t, 1, syncer.offerPolls)

	// 5s later: neither interval has elapsed
	*now = now.Add(5 * time.Second)
	s.tick(ctx)
	assert.Equal(t, 1, syncer.ridePolls)
	assert.Equal(t, 1, syncer.offerPolls)

	// 15s later: ride interval elapsed, offer (slow, 60s) not yet
	*now = now.Add(10 * time.Second)
	s.tick(ctx)
	assert.Equal(t, 2, syncer.ridePolls)
	assert.Equal(t, 1, syncer.offerPolls)

	// 65s in: offer interval elapsed too
	*now = now.Add(50 * time.Second)
	s.tick(ctx)
	assert.Equal(t, 2, syncer.offerPolls)
}

func TestDisconnectedPollsFaster(t *testing.T) {
	syncer := &countingSyncer{}
	probe := &fixedProbe{connected: false}
	s, now := newTestScheduler(syncer, probe)
	ctx := context.Background()

	s.tick(ctx)
	*now = now.Add(10 * time.Second)
	s.tick(ctx)
	assert.Equal(t, 2, syncer.offerPolls)
}

func TestEveryTickExpiresOffers(t *testing.T) {
	syncer := &countingSyncer{}
	s, now := newTestScheduler(syncer, &fixedProbe{})
	ctx := context.Background()

	s.tick(ctx)
	*now = now.Add(5 * time.Second)
	s.tick(ctx)
	assert.Equal(t, 2, syncer.expires)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	syncer := &countingSyncer{}
	s := New(syncer, &fixedProbe{}, Options{Tick: 10 * time.Millisecond}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, syncer.ridePolls, 1)
}
