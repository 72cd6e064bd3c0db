package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

func newTestClient(h http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(h)
	return NewClient(srv.URL, "test-token", 2*time.Second), srv
}

func TestCurrentRideNoContent(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	defer srv.Close()

	ride, err := c.CurrentRide(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ride)
}

func TestCurrentRideNormalizesStatus(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"7","status":"accepted","fare":12.5}`))
	})
	defer srv.Close()

	ride, err := c.CurrentRide(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ride)
	assert.Equal(t, "7", ride.ID)
	assert.Equal(t, status.Pickup, ride.Status)
	assert.Equal(t, 12.5, ride.Fare)
}

func TestUnauthorizedIsSentinel(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	_, err := c.CurrentRide(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = c.Accept(context.Background(), "1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestActionFailureIsStatusError(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stop already running", http.StatusUnprocessableEntity)
	})
	defer srv.Close()

	_, err := c.StartStop(context.Background(), "9")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
}

func TestActionPostsIdempotencyKey(t *testing.T) {
	var key string
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	require.NoError(t, c.Arrived(context.Background(), "9"))
	assert.NotEmpty(t, key)
}

func TestCompletedRidesAcceptsBothPageShapes(t *testing.T) {
	bare, srv1 := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "completed", r.URL.Query().Get("status"))
		w.Write([]byte(`[{"id":"1","status":"completed"}]`))
	})
	defer srv1.Close()
	rides, err := bare.CompletedRides(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, status.Completed, rides[0].Status)

	wrapped, srv2 := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"1","status":"terminee"},{"id":"2","status":"paid"}]}`))
	})
	defer srv2.Close()
	rides, err = wrapped.CompletedRides(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, status.Completed, rides[0].Status)
	assert.Equal(t, status.Completed, rides[1].Status)
}

func TestCompleteReturnsPaymentLink(t *testing.T) {
	c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"fare":20,"driver_earnings":16,"payment_link":"https://pay.example/abc"}`))
	})
	defer srv.Close()

	res, err := c.Complete(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, 20.0, res.Fare)
	require.NotNil(t, res.DriverEarnings)
	assert.Equal(t, 16.0, *res.DriverEarnings)
	assert.Equal(t, "https://pay.example/abc", res.PaymentLink)
}
