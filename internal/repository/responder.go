package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

type ResponderRepository struct {
	db PgxIface
}

func NewResponderRepository(db PgxIface) service.ResponderRepository {
	return &ResponderRepository{
		db: db,
	}
}

// Create создает новую запись об ответчике в бд
func (r *ResponderRepository) Create(ctx context.Context, responder *models.Responder) error {
	query := `
		INSERT INTO responders (available)
		VALUES ($1) RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query, responder.Available).
		Scan(&responder.ID, &responder.CreatedAt, &responder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create responder: %w", err)
	}
	return nil
}

// GetByID возвращает ответчика по его UUID
func (r *ResponderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	responder := &models.Responder{}
	var lat, lon *float64
	query := `
		SELECT
			id,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			available,
			last_reported_at,
			created_at,
			updated_at
		FROM responders
		WHERE id = $1;
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&responder.ID,
		&lat,
		&lon,
		&responder.Available,
		&responder.LastReportedAt,
		&responder.CreatedAt,
		&responder.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("responder with id %s: %w", id, service.ErrResponderNotFound)
		}
		return nil, fmt.Errorf("failed to get responder by id: %w", err)
	}

	if lat != nil && lon != nil {
		responder.Coordinate = &models.Coordinate{Latitude: *lat, Longitude: *lon}
	}
	return responder, nil
}

// SetAvailability обновляет доступность и, если координата передана, позицию с меткой времени
func (r *ResponderRepository) SetAvailability(ctx context.Context, id uuid.UUID, available bool, coordinate *models.Coordinate, reportedAt time.Time) error {
	var cmdTag pgconn.CommandTag
	var err error

	if coordinate != nil {
		query := `
			UPDATE responders SET
				available = $2,
				location = ST_SetSRID(ST_MakePoint($3, $4), 4326),
				last_reported_at = $5,
				updated_at = NOW()
			WHERE id = $1;
		`
		cmdTag, err = r.db.Exec(ctx, query, id, available, coordinate.Longitude, coordinate.Latitude, reportedAt)
	} else {
		query := `
			UPDATE responders SET
				available = $2,
				updated_at = NOW()
			WHERE id = $1;
		`
		cmdTag, err = r.db.Exec(ctx, query, id, available)
	}
	if err != nil {
		return fmt.Errorf("failed to update responder availability: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("responder with id %s: %w", id, service.ErrResponderNotFound)
	}
	return nil
}

// UpdateLocation обновляет позицию и метку времени. Запись защищена от опоздавших
// отчётов: условие last_reported_at <= $4 не даёт устаревшей позиции
// перезаписать более свежую.
func (r *ResponderRepository) UpdateLocation(ctx context.Context, id uuid.UUID, coordinate models.Coordinate, reportedAt time.Time) error {
	query := `
		UPDATE responders SET
			location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
			last_reported_at = $4,
			updated_at = NOW()
		WHERE id = $1
			AND (last_reported_at IS NULL OR last_reported_at <= $4);
	`
	cmdTag, err := r.db.Exec(ctx, query, id, coordinate.Longitude, coordinate.Latitude, reportedAt)
	if err != nil {
		return fmt.Errorf("failed to update responder location: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		// Либо ответчика нет, либо отчёт опоздал - различаем отдельным запросом
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM responders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check responder existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("responder with id %s: %w", id, service.ErrResponderNotFound)
		}
		return fmt.Errorf("location report for responder %s: %w", id, service.ErrStaleLocation)
	}
	return nil
}

// ListAvailable возвращает всех доступных ответчиков с известной позицией, порядок не определён
func (r *ResponderRepository) ListAvailable(ctx context.Context) ([]*models.Responder, error) {
	query := `
		SELECT
			id,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			available,
			last_reported_at,
			created_at,
			updated_at
		FROM responders
		WHERE available = TRUE AND location IS NOT NULL;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list available responders: %w", err)
	}
	defer rows.Close()

	responders := make([]*models.Responder, 0)
	for rows.Next() {
		responder := &models.Responder{}
		var lat, lon float64
		err := rows.Scan(
			&responder.ID,
			&lat,
			&lon,
			&responder.Available,
			&responder.LastReportedAt,
			&responder.CreatedAt,
			&responder.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan responder row: %w", err)
		}
		responder.Coordinate = &models.Coordinate{Latitude: lat, Longitude: lon}
		responders = append(responders, responder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in ListAvailable: %w", err)
	}
	return responders, nil
}
