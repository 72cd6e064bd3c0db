package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
)

// KafkaMirror publishes every reported position to the fleet telemetry
// topic. It is optional: the REST report is the primary channel, the mirror
// exists for depot analytics.
type KafkaMirror struct {
	writer   *kafka.Writer
	driverID string
}

func NewKafkaMirror(brokers []string, topic, driverID string) *KafkaMirror {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaMirror{writer: w, driverID: driverID}
}

type sample struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RideID   string  `json:"ride_id,omitempty"`
	Taken    string  `json:"taken"`
}

func (k *KafkaMirror) Publish(ctx context.Context, pos models.Position, rideID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(sample{
		DriverID: k.driverID,
		Lat:      pos.Lat,
		Lon:      pos.Lon,
		RideID:   rideID,
		Taken:    pos.Taken.UTC().Format(time.RFC3339),
	})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(k.driverID), Value: b})
}

func (k *KafkaMirror) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
