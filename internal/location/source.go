package location

import (
	"context"
	"sync"
	"time"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
)

// StaticSource reports a fixed position, updatable at runtime. The daemon
// uses it when no GPS adapter is configured; integration tests and bench
// rigs feed it through Set.
type StaticSource struct {
	mu  sync.RWMutex
	pos models.Position
}

func NewStaticSource(lat, lon float64) *StaticSource {
	return &StaticSource{pos: models.Position{Coord: models.Coord{Lat: lat, Lon: lon}}}
}

func (s *StaticSource) Set(lat, lon float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = models.Position{Coord: models.Coord{Lat: lat, Lon: lon}}
}

func (s *StaticSource) Current(ctx context.Context) (models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.pos
	p.Taken = time.Now()
	return p, nil
}
