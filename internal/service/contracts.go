package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

//go:generate mockgen -source=contracts.go -destination=mocks/mock_contracts.go -package=mocks

// ResponderRepository определяет контракт для работы с бд справочника ответчиков
type ResponderRepository interface {
	Create(ctx context.Context, responder *models.Responder) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool, coordinate *models.Coordinate, reportedAt time.Time) error
	// UpdateLocation применяет отчёт о позиции. Отчёт старше сохранённого отбрасывается
	// с ошибкой ErrStaleLocation: запись не перезаписывается.
	UpdateLocation(ctx context.Context, id uuid.UUID, coordinate models.Coordinate, reportedAt time.Time) error
	ListAvailable(ctx context.Context) ([]*models.Responder, error)
}

// IncidentRepository определяет контракт для работы с бд инцидентов и оповещений
type IncidentRepository interface {
	Create(ctx context.Context, incident *models.Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	CreateAlerts(ctx context.Context, alerts []*models.Alert) error
	ListAlerts(ctx context.Context, incidentID uuid.UUID) ([]*models.Alert, error)
	// AcceptIncident атомарно переводит инцидент pending->accepted от имени ответчика
	// с pending-оповещением; остальные pending-оповещения переходят в superseded.
	// Ровно один конкурентный вызов выигрывает, проигравшие получают ErrAlreadyAccepted.
	AcceptIncident(ctx context.Context, incidentID, responderID uuid.UUID) (*models.Incident, error)
	// DeclineAlert переводит pending-оповещение в declined; для не-pending - no-op
	DeclineAlert(ctx context.Context, incidentID, responderID uuid.UUID) error
	ResolveIncident(ctx context.Context, incidentID uuid.UUID, resolvedAt time.Time) (*models.Incident, error)
	// CancelIncident - единственный путь pending->resolved, доступен только пока нет принятого оповещения
	CancelIncident(ctx context.Context, incidentID uuid.UUID, resolvedAt time.Time) (*models.Incident, error)

	GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	SetIncidentCache(ctx context.Context, incident *models.Incident) error
	InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error
}

// RouteEstimator определяет контракт внешнего коллаборатора маршрутизации.
// Никогда не возвращает ошибку: при недоступности сервиса деградирует до прямой линии.
type RouteEstimator interface {
	Estimate(ctx context.Context, start, end models.Coordinate) *models.RoutePath
}

// ResponderService определяет контракт бизнес-логики справочника ответчиков
type ResponderService interface {
	Register(ctx context.Context, responder *models.Responder) error
	GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool, coordinate *models.Coordinate) error
	UpdateLocation(ctx context.Context, id uuid.UUID, coordinate models.Coordinate) error
}

// DispatchService определяет контракт бизнес-логики диспетчеризации инцидентов
type DispatchService interface {
	CreateIncident(ctx context.Context, origin models.Coordinate, incidentType models.IncidentType) (*models.Incident, *models.MatchResult, error)
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, []*models.Alert, error)
	AcceptIncident(ctx context.Context, incidentID, responderID uuid.UUID) (*models.Incident, error)
	DeclineIncident(ctx context.Context, incidentID, responderID uuid.UUID) error
	ResolveIncident(ctx context.Context, incidentID uuid.UUID) (*models.Incident, error)
	CancelIncident(ctx context.Context, incidentID uuid.UUID) (*models.Incident, error)
	ReportPosition(ctx context.Context, incidentID, responderID uuid.UUID, coordinate models.Coordinate, reportedAt time.Time) (*models.RoutePath, error)
}
