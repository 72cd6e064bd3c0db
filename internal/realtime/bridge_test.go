package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBridge(h Handlers) *Bridge {
	return NewBridge("ws://unused", "", h, slog.New(slog.DiscardHandler))
}

func TestDispatchRideRequested(t *testing.T) {
	called := false
	b := testBridge(Handlers{OnRideRequested: func() { called = true }})
	b.dispatch(Event{Event: "ride.requested", Channel: PresenceChannel})
	assert.True(t, called)
}

func TestDispatchRideCancelled(t *testing.T) {
	var got string
	b := testBridge(Handlers{OnRideCancelled: func(id string) { got = id }})
	b.dispatch(Event{Event: "ride.cancelled", Data: json.RawMessage(`{"rideId":"3"}`)})
	assert.Equal(t, "3", got)
}

func TestDispatchIgnoresMalformedCancel(t *testing.T) {
	called := false
	b := testBridge(Handlers{OnRideCancelled: func(string) { called = true }})
	b.dispatch(Event{Event: "ride.cancelled", Data: json.RawMessage(`{}`)})
	b.dispatch(Event{Event: "ride.cancelled", Data: json.RawMessage(`not json`)})
	assert.False(t, called)
}

func TestDispatchRatedAndPayment(t *testing.T) {
	var rating, tip *float64
	paid := ""
	b := testBridge(Handlers{
		OnRideRated:        func(id string, r, tp *float64) { rating, tip = r, tp },
		OnPaymentConfirmed: func(id string) { paid = id },
	})
	b.dispatch(Event{Event: "ride.rated", Data: json.RawMessage(`{"rideId":"1","rating":4.5,"tip":2}`)})
	b.dispatch(Event{Event: "payment.confirmed", Data: json.RawMessage(`{"rideId":"1"}`)})

	require.NotNil(t, rating)
	assert.Equal(t, 4.5, *rating)
	require.NotNil(t, tip)
	assert.Equal(t, 2.0, *tip)
	assert.Equal(t, "1", paid)
}

func TestPrivateRideChannelName(t *testing.T) {
	assert.Equal(t, "private-ride.42", PrivateRideChannel("42"))
}

// end-to-end: subscribe on connect, receive an event, flip Connected.
func TestBridgeConnectsSubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotSubscribe := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub map[string]string
		require.NoError(t, conn.ReadJSON(&sub))
		gotSubscribe <- sub["channel"]

		require.NoError(t, conn.WriteJSON(Event{
			Event:   "ride.cancelled",
			Channel: PresenceChannel,
			Data:    json.RawMessage(`{"rideId":"9"}`),
		}))
		// hold the connection open until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	var mu sync.Mutex
	var cancelled string
	b := NewBridge("ws"+strings.TrimPrefix(srv.URL, "http"), "tok", Handlers{
		OnRideCancelled: func(id string) {
			mu.Lock()
			cancelled = id
			mu.Unlock()
		},
	}, slog.New(slog.DiscardHandler))

	b.Start(t.Context())
	defer b.Stop()

	select {
	case ch := <-gotSubscribe:
		assert.Equal(t, PresenceChannel, ch)
	case <-time.After(3 * time.Second):
		t.Fatal("no subscribe frame received")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return cancelled == "9"
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, b.Connected())
}
