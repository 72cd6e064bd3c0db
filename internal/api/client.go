package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/observability"
	"github.com/likmaa/apk-tic-driver-app-sub000/internal/status"
)

// ErrUnauthorized is returned for any 401 so the engine can clear the
// session in one place instead of per call site.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is any other non-2xx backend answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client talks to the driver REST backend with a bearer token. Every call
// takes a context and is bounded by Timeout, so teardown cannot leak
// in-flight requests.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// CurrentRide fetches the authoritative current-ride snapshot.
// A 204 means "no ride" and yields (nil, nil).
func (c *Client) CurrentRide(ctx context.Context) (*models.Ride, error) {
	resp, err := c.do(ctx, http.MethodGet, "driver/current-ride", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var p ridePayload
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			return nil, fmt.Errorf("decode current ride: %w", err)
		}
		return p.toModel(), nil
	default:
		return nil, statusErr(resp)
	}
}

// NextOffers fetches the pending offer list.
func (c *Client) NextOffers(ctx context.Context) ([]*models.Ride, error) {
	resp, err := c.do(ctx, http.MethodGet, "driver/next-offer", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp)
	}
	var payloads []ridePayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode offers: %w", err)
	}
	out := make([]*models.Ride, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.toModel())
	}
	return out, nil
}

func (c *Client) Accept(ctx context.Context, rideID string) error {
	return c.action(ctx, rideID, "accept")
}

func (c *Client) Decline(ctx context.Context, rideID string) error {
	return c.action(ctx, rideID, "decline")
}

func (c *Client) Arrived(ctx context.Context, rideID string) error {
	return c.action(ctx, rideID, "arrived")
}

func (c *Client) Start(ctx context.Context, rideID string) error {
	return c.action(ctx, rideID, "start")
}

// StartStop begins the stop timer; the backend answers with the exact
// server-side stop_started_at. 422 means the stop was already running.
func (c *Client) StartStop(ctx context.Context, rideID string) (*models.StopResult, error) {
	return c.stopCall(ctx, rideID, "start-stop")
}

// EndStop ends the stop timer and returns the accumulated duration.
func (c *Client) EndStop(ctx context.Context, rideID string) (*models.StopResult, error) {
	return c.stopCall(ctx, rideID, "end-stop")
}

// Complete finishes the trip and returns the final fare breakdown plus the
// payment link to show the rider.
func (c *Client) Complete(ctx context.Context, rideID string) (*models.CompletionResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "driver/trips/"+rideID+"/complete", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusErr(resp)
	}
	var out models.CompletionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return &out, nil
}

// ReportLocation posts one position sample, tagged with the active ride id
// when there is one. Callers treat failures as droppable telemetry.
func (c *Client) ReportLocation(ctx context.Context, pos models.Position, rideID string) error {
	body := map[string]any{"lat": pos.Lat, "lng": pos.Lon}
	if rideID != "" {
		body["ride_id"] = rideID
	}
	resp, err := c.do(ctx, http.MethodPost, "driver/location", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr(resp)
	}
	return nil
}

// SetStatus toggles the driver's online flag on the backend.
func (c *Client) SetStatus(ctx context.Context, online bool) error {
	resp, err := c.do(ctx, http.MethodPost, "driver/status", map[string]any{"online": online})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr(resp)
	}
	return nil
}

// CompletedRides fetches one page of server-side completed rides.
func (c *Client) CompletedRides(ctx context.Context, perPage int) ([]*models.Ride, error) {
	path := fmt.Sprintf("driver/rides?status=completed&per_page=%d", perPage)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp)
	}
	var page struct {
		Data []ridePayload `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history page: %w", err)
	}
	// the endpoint historically returned either a bare array or {data: [...]}
	if err := json.Unmarshal(raw, &page); err != nil || page.Data == nil {
		var arr []ridePayload
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("decode history page: %w", err)
		}
		page.Data = arr
	}
	out := make([]*models.Ride, 0, len(page.Data))
	for _, p := range page.Data {
		out = append(out, p.toModel())
	}
	return out, nil
}

func (c *Client) action(ctx context.Context, rideID, verb string) error {
	resp, err := c.do(ctx, http.MethodPost, "driver/trips/"+rideID+"/"+verb, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr(resp)
	}
	return nil
}

func (c *Client) stopCall(ctx context.Context, rideID, verb string) (*models.StopResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "driver/trips/"+rideID+"/"+verb, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusErr(resp)
	}
	var out models.StopResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode stop result: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/"+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func statusErr(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// ridePayload is the wire shape; toModel folds the raw status through the
// canonical mapping.
type ridePayload struct {
	ID               string     `json:"id"`
	PickupLabel      string     `json:"pickup_label"`
	DropoffLabel     string     `json:"dropoff_label"`
	PickupLat        *float64   `json:"pickup_lat"`
	PickupLon        *float64   `json:"pickup_lon"`
	DropoffLat       *float64   `json:"dropoff_lat"`
	DropoffLon       *float64   `json:"dropoff_lon"`
	Fare             float64    `json:"fare"`
	DriverEarnings   *float64   `json:"driver_earnings"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	ArrivedAt        *time.Time `json:"arrived_at"`
	StopStartedAt    *time.Time `json:"stop_started_at"`
	TotalStopSeconds int64      `json:"total_stop_duration_s"`
	ServiceType      string     `json:"service_type"`
	VehicleType      string     `json:"vehicle_type"`
	HasBaggage       bool       `json:"has_baggage"`
	RecipientName    string     `json:"recipient_name"`
	RecipientPhone   string     `json:"recipient_phone"`
	RiderID          string     `json:"rider_id"`
	RiderName        string     `json:"rider_name"`
	RiderPhone       string     `json:"rider_phone"`
}

func (p ridePayload) toModel() *models.Ride {
	st, known := status.Lookup(p.Status)
	if !known {
		observability.UnknownStatusTotal.Inc()
	}
	r := &models.Ride{
		ID:               p.ID,
		PickupLabel:      p.PickupLabel,
		DropoffLabel:     p.DropoffLabel,
		Fare:             p.Fare,
		DriverEarnings:   p.DriverEarnings,
		Status:           st,
		StartedAt:        p.StartedAt,
		CompletedAt:      p.CompletedAt,
		ArrivedAt:        p.ArrivedAt,
		StopStartedAt:    p.StopStartedAt,
		TotalStopSeconds: p.TotalStopSeconds,
		ServiceType:      p.ServiceType,
		VehicleType:      p.VehicleType,
		HasBaggage:       p.HasBaggage,
		RecipientName:    p.RecipientName,
		RecipientPhone:   p.RecipientPhone,
		RiderID:          p.RiderID,
		RiderName:        p.RiderName,
		RiderPhone:       p.RiderPhone,
		ReceivedAt:       time.Now(),
	}
	if p.PickupLat != nil && p.PickupLon != nil {
		r.PickupCoord = &models.Coord{Lat: *p.PickupLat, Lon: *p.PickupLon}
	}
	if p.DropoffLat != nil && p.DropoffLon != nil {
		r.DropoffCoord = &models.Coord{Lat: *p.DropoffLat, Lon: *p.DropoffLon}
	}
	return r
}
