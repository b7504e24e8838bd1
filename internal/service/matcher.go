package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/pkg/geo"
	"github.com/sirupsen/logrus"
)

// Matcher подбирает ответчиков для инцидента по двухуровневой радиусной политике:
// узкий первый проход ради быстрого локального отклика, ровно одно fallback-расширение,
// чтобы покрытие деградировало, но не раздувало радиус до потери смысла "соседей".
type Matcher struct {
	responders ResponderRepository
	cfg        *config.Config
	logger     *logrus.Logger
}

func NewMatcher(responders ResponderRepository, cfg *config.Config, logger *logrus.Logger) *Matcher {
	return &Matcher{
		responders: responders,
		cfg:        cfg,
		logger:     logger,
	}
}

// Match возвращает доступных ответчиков в первичном радиусе от точки инцидента;
// если таких нет - в fallback-радиусе. Пустой результат после обоих уровней -
// не ошибка, а валидный исход "нет покрытия", RadiusUsed при этом равен fallback-радиусу.
func (m *Matcher) Match(ctx context.Context, origin models.Coordinate) (*models.MatchResult, error) {
	log := m.logger.WithFields(logrus.Fields{
		"service": "matcher",
		"method":  "Match",
	})

	available, err := m.responders.ListAvailable(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to list available responders")
		return nil, fmt.Errorf("matcher: could not list available responders: %w", err)
	}

	// Расстояния считаем один раз по одному снимку справочника,
	// оба уровня фильтруют один и тот же набор
	ranked := make([]models.MatchedResponder, 0, len(available))
	for _, r := range available {
		if r.Coordinate == nil {
			continue
		}
		d := geo.DistanceMeters(origin.Latitude, origin.Longitude, r.Coordinate.Latitude, r.Coordinate.Longitude)
		ranked = append(ranked, models.MatchedResponder{Responder: r, DistanceMeters: d})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].DistanceMeters < ranked[j].DistanceMeters
	})

	result := &models.MatchResult{RadiusUsed: m.cfg.MatchRadiusMeters}
	result.Responders = withinRadius(ranked, m.cfg.MatchRadiusMeters)
	if len(result.Responders) == 0 {
		result.RadiusUsed = m.cfg.MatchFallbackRadiusMeters
		result.Responders = withinRadius(ranked, m.cfg.MatchFallbackRadiusMeters)
	}

	log.WithFields(logrus.Fields{
		"available_count": len(available),
		"matched_count":   len(result.Responders),
		"radius_used":     result.RadiusUsed,
	}).Info("Responder matching completed")

	return result, nil
}

// withinRadius возвращает префикс отсортированного по расстоянию слайса в пределах радиуса
func withinRadius(ranked []models.MatchedResponder, radius float64) []models.MatchedResponder {
	matched := make([]models.MatchedResponder, 0, len(ranked))
	for _, mr := range ranked {
		if mr.DistanceMeters > radius {
			break
		}
		matched = append(matched, mr)
	}
	return matched
}
