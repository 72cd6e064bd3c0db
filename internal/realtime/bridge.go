package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/observability"
)

// PresenceChannel carries the fleet-wide offer events.
const PresenceChannel = "presence-drivers"

// PrivateRideChannel names the per-ride channel delivering rating and
// payment events after completion.
func PrivateRideChannel(rideID string) string { return "private-ride." + rideID }

// Event is one push frame: {event, channel, data}.
type Event struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Handlers are the engine callbacks. The bridge never touches ride state
// itself; it only translates frames into store operations.
type Handlers struct {
	OnRideRequested    func()
	OnRideCancelled    func(rideID string)
	OnRideRated        func(rideID string, rating, tip *float64)
	OnPaymentConfirmed func(rideID string)
}

// Bridge maintains one websocket to the push backend while the driver is
// online. It resubscribes its channel set after every reconnect and backs
// off exponentially (capped at 30s) while the backend is unreachable.
type Bridge struct {
	url      string
	token    string
	handlers Handlers
	log      *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	channels  map[string]bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewBridge(url, token string, handlers Handlers, log *slog.Logger) *Bridge {
	return &Bridge{
		url:      url,
		token:    token,
		handlers: handlers,
		log:      log,
		channels: map[string]bool{PresenceChannel: true},
	}
}

// Connected reports whether the presence channel is currently live; the
// scheduler uses this to pick its effective poll interval.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Start spawns the connect/read loop. Call Stop to tear it down; Start on
// a running bridge is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(runCtx)
}

// Stop closes the connection, unbinds all handlers and waits for the loop
// to exit.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.cancel = nil
	if b.conn != nil {
		b.conn.Close()
	}
	b.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Subscribe adds a channel (e.g. the private ride channel at the end-of-
// ride screen) and sends the subscribe frame if connected.
func (b *Bridge) Subscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[channel] = true
	if b.conn != nil {
		b.sendLocked("subscribe", channel)
	}
}

// Unsubscribe removes a channel from the set and tells the backend.
func (b *Bridge) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.channels, channel)
	if b.conn != nil {
		b.sendLocked("unsubscribe", channel)
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := b.dial(ctx)
		if err != nil {
			b.log.Warn("realtime dial failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		b.mu.Lock()
		b.conn = conn
		b.connected = true
		for ch := range b.channels {
			b.sendLocked("subscribe", ch)
		}
		b.mu.Unlock()
		observability.RealtimeConnected.Set(1)
		b.log.Info("realtime connected", "url", b.url)

		b.readLoop(ctx, conn)

		b.mu.Lock()
		b.conn = nil
		b.connected = false
		b.mu.Unlock()
		observability.RealtimeConnected.Set(0)
		conn.Close()
	}
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.token != "" {
		header.Set("Authorization", "Bearer "+b.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, b.url, header)
	return conn, err
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() == nil {
				b.log.Warn("realtime read failed", "error", err)
			}
			return
		}
		b.dispatch(ev)
	}
}

// dispatch routes one frame to the engine callbacks.
func (b *Bridge) dispatch(ev Event) {
	observability.RealtimeEvents.WithLabelValues(ev.Event).Inc()
	switch ev.Event {
	case "ride.requested":
		if b.handlers.OnRideRequested != nil {
			b.handlers.OnRideRequested()
		}
	case "ride.cancelled":
		var d struct {
			RideID string `json:"rideId"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil || d.RideID == "" {
			b.log.Warn("malformed ride.cancelled frame", "data", string(ev.Data))
			return
		}
		if b.handlers.OnRideCancelled != nil {
			b.handlers.OnRideCancelled(d.RideID)
		}
	case "ride.rated":
		var d struct {
			RideID string   `json:"rideId"`
			Rating *float64 `json:"rating"`
			Tip    *float64 `json:"tip"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil || d.RideID == "" {
			b.log.Warn("malformed ride.rated frame", "data", string(ev.Data))
			return
		}
		if b.handlers.OnRideRated != nil {
			b.handlers.OnRideRated(d.RideID, d.Rating, d.Tip)
		}
	case "payment.confirmed":
		var d struct {
			RideID string `json:"rideId"`
		}
		if err := json.Unmarshal(ev.Data, &d); err != nil || d.RideID == "" {
			b.log.Warn("malformed payment.confirmed frame", "data", string(ev.Data))
			return
		}
		if b.handlers.OnPaymentConfirmed != nil {
			b.handlers.OnPaymentConfirmed(d.RideID)
		}
	default:
		b.log.Debug("unhandled realtime event", "event", ev.Event)
	}
}

func (b *Bridge) sendLocked(action, channel string) {
	msg := map[string]string{"event": action, "channel": channel}
	if err := b.conn.WriteJSON(msg); err != nil {
		b.log.Warn("realtime send failed", "action", action, "channel", channel, "error", err)
	}
}
