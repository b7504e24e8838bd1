package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

const incidentColumns = `
	id,
	ST_Y(origin::geometry) as latitude,
	ST_X(origin::geometry) as longitude,
	type,
	status,
	accepted_responder_id,
	created_at,
	resolved_at
`

type IncidentRepository struct {
	db          PgxIface
	redisClient *redis.Client
}

func NewIncidentRepository(db PgxIface, redisClient *redis.Client) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	query := `
		INSERT INTO incidents (origin, type, status)
		VALUES (ST_SetSRID(ST_MakePoint($1, $2), 4326), $3, $4) RETURNING id, created_at;
	`
	err := r.db.QueryRow(ctx, query,
		incident.Origin.Longitude,
		incident.Origin.Latitude,
		incident.Type,
		incident.Status,
	).Scan(&incident.ID, &incident.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", id, service.ErrIncidentNotFound)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// CreateAlerts массово создает pending-оповещения при рассылке
func (r *IncidentRepository) CreateAlerts(ctx context.Context, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO alerts (incident_id, responder_id, status, distance_meters, sent_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	for _, alert := range alerts {
		batch.Queue(query, alert.IncidentID, alert.ResponderID, alert.Status, alert.DistanceMeters, alert.SentAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range alerts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to create alerts: %w", err)
		}
	}
	return nil
}

// ListAlerts возвращает все оповещения инцидента по возрастанию расстояния
func (r *IncidentRepository) ListAlerts(ctx context.Context, incidentID uuid.UUID) ([]*models.Alert, error) {
	query := `
		SELECT incident_id, responder_id, status, distance_meters, sent_at
		FROM alerts
		WHERE incident_id = $1
		ORDER BY distance_meters ASC;
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.Alert, 0)
	for rows.Next() {
		alert := &models.Alert{}
		err := rows.Scan(
			&alert.IncidentID,
			&alert.ResponderID,
			&alert.Status,
			&alert.DistanceMeters,
			&alert.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration in ListAlerts: %w", err)
	}
	return alerts, nil
}

// AcceptIncident атомарно переводит инцидент pending->accepted от имени ответчика.
// SELECT FOR UPDATE строки инцидента - точка сериализации: конкурентные принятия
// одного инцидента выстраиваются в очередь, выигрывает ровно одно, остальные
// видят статус accepted и получают ErrAlreadyAccepted.
func (r *IncidentRepository) AcceptIncident(ctx context.Context, incidentID, responderID uuid.UUID) (*models.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin accept transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status models.IncidentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM incidents WHERE id = $1 FOR UPDATE`, incidentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s: %w", incidentID, service.ErrIncidentNotFound)
		}
		return nil, fmt.Errorf("failed to lock incident for accept: %w", err)
	}
	if status != models.IncidentStatusPending {
		return nil, service.NewStateError(service.ErrAlreadyAccepted, status)
	}

	// Принять может только ответчик с живым pending-оповещением;
	// уже отказавшийся или не оповещённый получает NotFound
	cmdTag, err := tx.Exec(ctx, `
		UPDATE alerts SET status = $3
		WHERE incident_id = $1 AND responder_id = $2 AND status = $4;
	`, incidentID, responderID, models.AlertStatusAccepted, models.AlertStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to accept alert: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, fmt.Errorf("alert for incident %s and responder %s: %w", incidentID, responderID, service.ErrAlertNotFound)
	}

	// Все прочие pending-оповещения проигрывают гонку; явные отказы остаются declined
	_, err = tx.Exec(ctx, `
		UPDATE alerts SET status = $2
		WHERE incident_id = $1 AND status = $3;
	`, incidentID, models.AlertStatusSuperseded, models.AlertStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to supersede pending alerts: %w", err)
	}

	incident, err := scanIncident(tx.QueryRow(ctx, `
		UPDATE incidents SET
			status = $2,
			accepted_responder_id = $3
		WHERE id = $1 AND status = $4
		RETURNING `+incidentColumns+`;
	`, incidentID, models.IncidentStatusAccepted, responderID, models.IncidentStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to accept incident: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit accept transaction: %w", err)
	}
	return incident, nil
}

// DeclineAlert переводит pending-оповещение в declined; для не-pending статусов - no-op
func (r *IncidentRepository) DeclineAlert(ctx context.Context, incidentID, responderID uuid.UUID) error {
	cmdTag, err := r.db.Exec(ctx, `
		UPDATE alerts SET status = $3
		WHERE incident_id = $1 AND responder_id = $2 AND status = $4;
	`, incidentID, responderID, models.AlertStatusDeclined, models.AlertStatusPending)
	if err != nil {
		return fmt.Errorf("failed to decline alert: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		// Идемпотентность: оповещение в терминальном статусе - no-op,
		// отсутствие оповещения - NotFound
		var exists bool
		err := r.db.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM alerts WHERE incident_id = $1 AND responder_id = $2)
		`, incidentID, responderID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check alert existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("alert for incident %s and responder %s: %w", incidentID, responderID, service.ErrAlertNotFound)
		}
	}
	return nil
}

// ResolveIncident переводит инцидент accepted->resolved. Условный UPDATE по статусу
// делает повторное разрешение невозможным: второй вызов получает ErrInvalidState.
func (r *IncidentRepository) ResolveIncident(ctx context.Context, incidentID uuid.UUID, resolvedAt time.Time) (*models.Incident, error) {
	incident, err := scanIncident(r.db.QueryRow(ctx, `
		UPDATE incidents SET
			status = $2,
			resolved_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+incidentColumns+`;
	`, incidentID, models.IncidentStatusResolved, resolvedAt, models.IncidentStatusAccepted))
	if err == nil {
		return incident, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}

	// Условие не сработало: различаем отсутствие инцидента и недопустимый статус
	current, err := r.GetByID(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return nil, service.NewStateError(service.ErrInvalidState, current.Status)
}

// CancelIncident - отзыв заявителем: pending->resolved, пока ни одно оповещение
// не принято. Оставшиеся pending-оповещения закрываются как superseded.
func (r *IncidentRepository) CancelIncident(ctx context.Context, incidentID uuid.UUID, resolvedAt time.Time) (*models.Incident, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin cancel transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	incident, err := scanIncident(tx.QueryRow(ctx, `
		UPDATE incidents SET
			status = $2,
			resolved_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+incidentColumns+`;
	`, incidentID, models.IncidentStatusResolved, resolvedAt, models.IncidentStatusPending))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to cancel incident: %w", err)
		}
		current, err := r.GetByID(ctx, incidentID)
		if err != nil {
			return nil, err
		}
		return nil, service.NewStateError(service.ErrInvalidState, current.Status)
	}

	_, err = tx.Exec(ctx, `
		UPDATE alerts SET status = $2
		WHERE incident_id = $1 AND status = $3;
	`, incidentID, models.AlertStatusSuperseded, models.AlertStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to close pending alerts on cancel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cancel transaction: %w", err)
	}
	return incident, nil
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id.String())
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID.String())
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	// Устанавливаем срок жизни кэша, например, 5 минут
	if err := r.redisClient.Set(ctx, key, val, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("incident:%s", id.String())
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

// scanIncident читает строку инцидента с координатами origin и nullable-полями
func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	var accepted uuid.NullUUID
	err := row.Scan(
		&incident.ID,
		&incident.Origin.Latitude,
		&incident.Origin.Longitude,
		&incident.Type,
		&incident.Status,
		&accepted,
		&incident.CreatedAt,
		&incident.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if accepted.Valid {
		incident.AcceptedResponderID = &accepted.UUID
	}
	return incident, nil
}
