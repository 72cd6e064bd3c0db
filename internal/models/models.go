package models

import (
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ride is the central entity tracked by the engine, from offer to history.
// Pointer fields are optional on the wire; Clone must stay in sync with them.
type Ride struct {
	ID string `json:"id"`

	PickupLabel  string `json:"pickup_label"`
	DropoffLabel string `json:"dropoff_label"`
	PickupCoord  *Coord `json:"pickup_coord,omitempty"`
	DropoffCoord *Coord `json:"dropoff_coord,omitempty"`

	Fare           float64  `json:"fare"`
	DriverEarnings *float64 `json:"driver_earnings,omitempty"`

	Status status.Status `json:"status"`

	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ArrivedAt        *time.Time `json:"arrived_at,omitempty"`
	StopStartedAt    *time.Time `json:"stop_started_at,omitempty"`
	TotalStopSeconds int64      `json:"total_stop_duration_s"`

	ServiceType string `json:"service_type"` // course, delivery, scheduled
	VehicleType string `json:"vehicle_type"`
	HasBaggage  bool   `json:"has_baggage"`

	RecipientName  string `json:"recipient_name,omitempty"`
	RecipientPhone string `json:"recipient_phone,omitempty"`

	RiderID    string `json:"rider_id"`
	RiderName  string `json:"rider_name"`
	RiderPhone string `json:"rider_phone"`

	// Filled in after completion by the private ride channel.
	Rating           *float64 `json:"rating,omitempty"`
	Tip              *float64 `json:"tip,omitempty"`
	PaymentConfirmed bool     `json:"payment_confirmed"`

	// Client-side bookkeeping, never sent to the backend.
	ReceivedAt time.Time `json:"-"`
}

// Clone returns a deep copy so optimistic actions can snapshot and restore
// the exact pre-mutation state.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	c.PickupCoord = cloneCoord(r.PickupCoord)
	c.DropoffCoord = cloneCoord(r.DropoffCoord)
	c.DriverEarnings = cloneFloat(r.DriverEarnings)
	c.StartedAt = cloneTime(r.StartedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.ArrivedAt = cloneTime(r.ArrivedAt)
	c.StopStartedAt = cloneTime(r.StopStartedAt)
	c.Rating = cloneFloat(r.Rating)
	c.Tip = cloneFloat(r.Tip)
	return &c
}

func cloneCoord(c *Coord) *Coord {
	if c == nil {
		return nil
	}
	v := *c
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Position is one GPS sample from the device.
type Position struct {
	Coord
	Accuracy float64   `json:"accuracy,omitempty"`
	Taken    time.Time `json:"taken"`
}

// CompletionResult is the backend's answer to a complete call: the final
// fare breakdown and the payment link shown to the rider.
type CompletionResult struct {
	Fare           float64  `json:"fare"`
	DriverEarnings *float64 `json:"driver_earnings,omitempty"`
	PaymentLink    string   `json:"payment_link,omitempty"`
}

// StopResult carries the server-authoritative stop-timer fields returned by
// the start-stop and end-stop endpoints.
type StopResult struct {
	StopStartedAt    *time.Time `json:"stop_started_at,omitempty"`
	TotalStopSeconds int64      `json:"total_stop_duration_s"`
}
