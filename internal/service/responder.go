package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

type responderService struct {
	repo   ResponderRepository
	logger *logrus.Logger
}

func NewResponderService(repo ResponderRepository, logger *logrus.Logger) ResponderService {
	return &responderService{
		repo:   repo,
		logger: logger,
	}
}

// Register создает запись ответчика в справочнике.
// Бизнес-процесс регистрации (сертификация, анкеты) живёт вне ядра.
func (s *responderService) Register(ctx context.Context, responder *models.Responder) error {
	log := s.logger.WithFields(logrus.Fields{
		"service": "responder",
		"method":  "Register",
	})
	log.Info("Registering a new responder")

	if err := s.repo.Create(ctx, responder); err != nil {
		log.WithError(err).Error("Failed to create responder in repository")
		return fmt.Errorf("service: could not register responder: %w", err)
	}

	log.WithField("responder_id", responder.ID).Info("Responder registered successfully")
	return nil
}

// GetResponder возвращает ответчика по ID
func (s *responderService) GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "responder",
		"method":       "GetResponder",
		"responder_id": id,
	})

	responder, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.WithError(err).Warn("Failed to get responder from repository")
		return nil, fmt.Errorf("service: could not get responder: %w", err)
	}
	return responder, nil
}

// SetAvailability переключает доступность и, если координата передана,
// обновляет последнюю известную позицию вместе с её временной меткой
func (s *responderService) SetAvailability(ctx context.Context, id uuid.UUID, available bool, coordinate *models.Coordinate) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "responder",
		"method":       "SetAvailability",
		"responder_id": id,
		"available":    available,
	})
	log.Info("Updating responder availability")

	if err := s.repo.SetAvailability(ctx, id, available, coordinate, time.Now().UTC()); err != nil {
		log.WithError(err).Error("Failed to update responder availability")
		return fmt.Errorf("service: could not update availability: %w", err)
	}

	log.Info("Responder availability updated successfully")
	return nil
}

// UpdateLocation применяет отчёт о позиции. Отчёт с меткой старше сохранённой
// отбрасывается (возвращается ErrStaleLocation): опоздавшая доставка
// не должна перезаписывать более свежую позицию.
func (s *responderService) UpdateLocation(ctx context.Context, id uuid.UUID, coordinate models.Coordinate) error {
	log := s.logger.WithFields(logrus.Fields{
		"service":      "responder",
		"method":       "UpdateLocation",
		"responder_id": id,
	})

	if err := s.repo.UpdateLocation(ctx, id, coordinate, time.Now().UTC()); err != nil {
		if errors.Is(err, ErrStaleLocation) {
			log.Debug("Stale location report dropped")
			return fmt.Errorf("service: location report ignored: %w", err)
		}
		log.WithError(err).Error("Failed to update responder location")
		return fmt.Errorf("service: could not update location: %w", err)
	}

	log.Debug("Responder location updated")
	return nil
}
