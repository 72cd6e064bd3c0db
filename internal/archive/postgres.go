package archive

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/likmaa/apk-tic-driver-app-sub000/internal/models"
)

// PostgresArchive mirrors completed rides into an operator database after
// each history merge. Fleet installations point PG_DSN at the depot
// Postgres; standalone installs leave it unset.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

// SaveCompleted upserts each completed ride by id, so repeated merges are
// harmless.
func (p *PostgresArchive) SaveCompleted(ctx context.Context, rides []*models.Ride) error {
	for _, r := range rides {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO completed_rides (id, fare, driver_earnings, service_type, completed_at, rider_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				fare = EXCLUDED.fare,
				driver_earnings = EXCLUDED.driver_earnings,
				completed_at = EXCLUDED.completed_at`,
			r.ID, r.Fare, r.DriverEarnings, r.ServiceType, r.CompletedAt, r.RiderID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
