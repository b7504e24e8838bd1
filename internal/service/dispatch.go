package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/relay"
	"github.com/shenikar/emergency_dispatch_system/internal/webhook"
	"github.com/sirupsen/logrus"
)

type dispatchService struct {
	incidents  IncidentRepository
	responders ResponderRepository
	matcher    *Matcher
	estimator  RouteEstimator
	relay      relay.Publisher
	webhooks   webhook.Publisher
	logger     *logrus.Logger
	cfg        *config.Config
}

func NewDispatchService(
	incidents IncidentRepository,
	responders ResponderRepository,
	matcher *Matcher,
	estimator RouteEstimator,
	relayPublisher relay.Publisher,
	webhookPublisher webhook.Publisher,
	logger *logrus.Logger,
	cfg *config.Config,
) DispatchService {
	return &dispatchService{
		incidents:  incidents,
		responders: responders,
		matcher:    matcher,
		estimator:  estimator,
		relay:      relayPublisher,
		webhooks:   webhookPublisher,
		logger:     logger,
		cfg:        cfg,
	}
}

// CreateIncident регистрирует SOS со статусом pending, подбирает ответчиков
// и массово создаёт pending-оповещения. Нулевой подбор - не ошибка: инцидент
// остаётся pending с нулём оповещений до ручной отмены.
func (s *dispatchService) CreateIncident(ctx context.Context, origin models.Coordinate, incidentType models.IncidentType) (*models.Incident, *models.MatchResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service": "dispatch",
		"method":  "CreateIncident",
		"type":    incidentType,
	})
	log.Info("Attempting to create a new incident")

	if !incidentType.IsValid() {
		return nil, nil, fmt.Errorf("service: unknown incident type %q", incidentType)
	}

	incident := &models.Incident{
		Origin: origin,
		Type:   incidentType,
		Status: models.IncidentStatusPending,
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		log.WithError(err).Error("Failed to create incident in repository")
		return nil, nil, fmt.Errorf("service: could not create incident: %w", err)
	}
	log = log.WithField("incident_id", incident.ID)

	match, err := s.matcher.Match(ctx, origin)
	if err != nil {
		log.WithError(err).Error("Failed to match responders for incident")
		return nil, nil, fmt.Errorf("service: could not match responders: %w", err)
	}

	if len(match.Responders) > 0 {
		sentAt := time.Now().UTC()
		alerts := make([]*models.Alert, 0, len(match.Responders))
		for _, mr := range match.Responders {
			alerts = append(alerts, &models.Alert{
				IncidentID:     incident.ID,
				ResponderID:    mr.Responder.ID,
				Status:         models.AlertStatusPending,
				DistanceMeters: mr.DistanceMeters,
				SentAt:         sentAt,
			})
		}
		if err := s.incidents.CreateAlerts(ctx, alerts); err != nil {
			log.WithError(err).Error("Failed to create alerts in repository")
			return nil, nil, fmt.Errorf("service: could not create alerts: %w", err)
		}
	}

	s.publishRelayEvent(ctx, relay.ChannelRespondersAvailable, relay.Event{
		Type:       relay.EventIncidentCreated,
		IncidentID: incident.ID,
		Coordinate: &incident.Origin,
		RadiusUsed: match.RadiusUsed,
		Timestamp:  time.Now().UTC(),
	})
	s.publishWebhookEvent(ctx, webhook.Event{
		Type:          webhook.EventIncidentCreated,
		IncidentID:    incident.ID,
		IncidentType:  incident.Type,
		Origin:        incident.Origin,
		NotifiedCount: len(match.Responders),
		Timestamp:     time.Now().UTC(),
	})

	log.WithFields(logrus.Fields{
		"notified_count": len(match.Responders),
		"radius_used":    match.RadiusUsed,
	}).Info("Incident created successfully")
	return incident, match, nil
}

// GetIncident получает инцидент с его оповещениями, с кешированием самого инцидента
func (s *dispatchService) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, []*models.Alert, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "dispatch",
		"method":      "GetIncident",
		"incident_id": id,
	})

	incident, err := s.incidents.GetIncidentFromCache(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to read incident from cache")
	}
	if incident == nil {
		incident, err = s.incidents.GetByID(ctx, id)
		if err != nil {
			log.WithError(err).Warn("Failed to get incident from repository")
			return nil, nil, fmt.Errorf("service: could not get incident: %w", err)
		}
		if cacheErr := s.incidents.SetIncidentCache(ctx, incident); cacheErr != nil {
			log.WithError(cacheErr).Warn("Failed to cache incident")
		}
	}

	alerts, err := s.incidents.ListAlerts(ctx, id)
	if err != nil {
		log.WithError(err).Error("Failed to list alerts for incident")
		return nil, nil, fmt.Errorf("service: could not list alerts: %w", err)
	}
	return incident, alerts, nil
}

// AcceptIncident атомарно принимает инцидент от имени ответчика: первый успевший
// выигрывает, проигравший получает ErrAlreadyAccepted с текущим статусом.
// Остальные pending-оповещения переходят в superseded уже после точки сериализации.
func (s *dispatchService) AcceptIncident(ctx context.Context, incidentID, responderID uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "dispatch",
		"method":       "AcceptIncident",
		"incident_id":  incidentID,
		"responder_id": responderID,
	})
	log.Info("Responder attempting to accept incident")

	incident, err := s.incidents.AcceptIncident(ctx, incidentID, responderID)
	if err != nil {
		if errors.Is(err, ErrAlreadyAccepted) {
			log.Info("Responder lost the acceptance race")
		} else {
			log.WithError(err).Warn("Failed to accept incident")
		}
		return nil, fmt.Errorf("service: could not accept incident: %w", err)
	}

	if err := s.incidents.InvalidateIncidentCache(ctx, incidentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}

	now := time.Now().UTC()
	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:        relay.EventAlertAccepted,
		IncidentID:  incidentID,
		ResponderID: &responderID,
		Timestamp:   now,
	})
	s.publishWebhookEvent(ctx, webhook.Event{
		Type:         webhook.EventIncidentAccepted,
		IncidentID:   incidentID,
		IncidentType: incident.Type,
		ResponderID:  &responderID,
		Origin:       incident.Origin,
		Timestamp:    now,
	})

	log.Info("Incident accepted successfully")
	return incident, nil
}

// DeclineIncident переводит pending-оповещение ответчика в declined.
// Повторный отказ или отказ после superseded - идемпотентный no-op.
// Статус самого инцидента не меняется.
func (s *dispatchService) DeclineIncident(ctx context.Context, incidentID, responderID uuid.UUID) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "dispatch",
		"method":       "DeclineIncident",
		"incident_id":  incidentID,
		"responder_id": responderID,
	})
	log.Info("Responder declining incident")

	if err := s.incidents.DeclineAlert(ctx, incidentID, responderID); err != nil {
		log.WithError(err).Warn("Failed to decline alert")
		return fmt.Errorf("service: could not decline incident: %w", err)
	}

	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:        relay.EventAlertDeclined,
		IncidentID:  incidentID,
		ResponderID: &responderID,
		Timestamp:   time.Now().UTC(),
	})

	log.Info("Incident declined")
	return nil
}

// ResolveIncident завершает принятый инцидент. Повторный вызов обязан вернуть
// ErrInvalidState, а не завершиться тихо: разрешение запускает одноразовые побочные
// эффекты (например, счётчик завершённых миссий ответчика).
func (s *dispatchService) ResolveIncident(ctx context.Context, incidentID uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "dispatch",
		"method":      "ResolveIncident",
		"incident_id": incidentID,
	})
	log.Info("Attempting to resolve incident")

	incident, err := s.incidents.ResolveIncident(ctx, incidentID, time.Now().UTC())
	if err != nil {
		log.WithError(err).Warn("Failed to resolve incident")
		return nil, fmt.Errorf("service: could not resolve incident: %w", err)
	}

	if err := s.incidents.InvalidateIncidentCache(ctx, incidentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}

	now := time.Now().UTC()
	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:        relay.EventIncidentResolved,
		IncidentID:  incidentID,
		ResponderID: incident.AcceptedResponderID,
		Timestamp:   now,
	})
	s.publishWebhookEvent(ctx, webhook.Event{
		Type:         webhook.EventIncidentResolved,
		IncidentID:   incidentID,
		IncidentType: incident.Type,
		ResponderID:  incident.AcceptedResponderID,
		Origin:       incident.Origin,
		Timestamp:    now,
	})

	log.Info("Incident resolved successfully")
	return incident, nil
}

// CancelIncident - отзыв инцидента заявителем. Единственный допустимый путь
// pending->resolved, работает только пока ни одно оповещение не принято.
func (s *dispatchService) CancelIncident(ctx context.Context, incidentID uuid.UUID) (*models.Incident, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":     "dispatch",
		"method":      "CancelIncident",
		"incident_id": incidentID,
	})
	log.Info("Attempting to cancel incident")

	incident, err := s.incidents.CancelIncident(ctx, incidentID, time.Now().UTC())
	if err != nil {
		log.WithError(err).Warn("Failed to cancel incident")
		return nil, fmt.Errorf("service: could not cancel incident: %w", err)
	}

	if err := s.incidents.InvalidateIncidentCache(ctx, incidentID); err != nil {
		log.WithError(err).Warn("Failed to invalidate incident cache")
	}

	now := time.Now().UTC()
	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:       relay.EventIncidentCancelled,
		IncidentID: incidentID,
		Timestamp:  now,
	})
	s.publishWebhookEvent(ctx, webhook.Event{
		Type:         webhook.EventIncidentCancelled,
		IncidentID:   incidentID,
		IncidentType: incident.Type,
		Origin:       incident.Origin,
		Timestamp:    now,
	})

	log.Info("Incident cancelled")
	return incident, nil
}

// ReportPosition принимает позицию принятого ответчика: обновляет справочник,
// транслирует позицию подписчикам инцидента и пересчитывает маршрут до точки SOS.
// Если к моменту возврата маршрутизатора инцидент уже не accepted,
// пересчитанный маршрут отбрасывается.
func (s *dispatchService) ReportPosition(ctx context.Context, incidentID, responderID uuid.UUID, coordinate models.Coordinate, reportedAt time.Time) (*models.RoutePath, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "dispatch",
		"method":       "ReportPosition",
		"incident_id":  incidentID,
		"responder_id": responderID,
	})

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident for position report")
		return nil, fmt.Errorf("service: could not get incident: %w", err)
	}
	if incident.Status != models.IncidentStatusAccepted {
		log.WithField("status", incident.Status).Info("Position report rejected: incident is not accepted")
		return nil, NewStateError(ErrInvalidState, incident.Status)
	}
	if incident.AcceptedResponderID == nil || *incident.AcceptedResponderID != responderID {
		log.Warn("Position report rejected: responder is not the accepted one")
		return nil, fmt.Errorf("service: %w", ErrAlertNotFound)
	}

	if err := s.responders.UpdateLocation(ctx, responderID, coordinate, reportedAt); err != nil {
		if errors.Is(err, ErrStaleLocation) {
			log.Debug("Stale position report dropped")
			return nil, fmt.Errorf("service: position report ignored: %w", err)
		}
		log.WithError(err).Error("Failed to update responder location")
		return nil, fmt.Errorf("service: could not update location: %w", err)
	}

	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:        relay.EventPositionUpdated,
		IncidentID:  incidentID,
		ResponderID: &responderID,
		Coordinate:  &coordinate,
		Timestamp:   time.Now().UTC(),
	})

	route := s.estimator.Estimate(ctx, coordinate, incident.Origin)
	route.IncidentID = incidentID
	route.ResponderID = responderID

	// Разрешение могло сработать, пока маршрутизатор отвечал: такой маршрут никому не нужен
	current, err := s.incidents.GetByID(ctx, incidentID)
	if err == nil && current.Status != models.IncidentStatusAccepted {
		log.WithField("status", current.Status).Info("Discarding route computed for a finished incident")
		return nil, nil
	}

	s.publishRelayEvent(ctx, relay.IncidentChannel(incidentID), relay.Event{
		Type:        relay.EventRouteUpdated,
		IncidentID:  incidentID,
		ResponderID: &responderID,
		Route:       route,
		Timestamp:   time.Now().UTC(),
	})

	log.WithFields(logrus.Fields{
		"distance_meters": route.DistanceMeters,
		"fallback":        route.Fallback,
	}).Debug("Route recomputed for position report")
	return route, nil
}

// publishRelayEvent публикует событие в relay в режиме fire-and-forget:
// недоставка подписчику не делает инициирующую операцию неуспешной
func (s *dispatchService) publishRelayEvent(ctx context.Context, channel string, event relay.Event) {
	if err := s.relay.Publish(ctx, channel, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"channel":    channel,
			"event_type": event.Type,
		}).Error("Failed to publish relay event")
	}
}

// publishWebhookEvent ставит событие в очередь вебхуков, ошибки только логируются
func (s *dispatchService) publishWebhookEvent(ctx context.Context, event webhook.Event) {
	if err := s.webhooks.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", event.Type).
			Error("Failed to publish webhook event")
	}
}
