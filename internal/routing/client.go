package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/pkg/geo"
	"github.com/sirupsen/logrus"
)

// Client - клиент внешнего сервиса маршрутизации (OSRM-совместимый HTTP API).
// Любой сбой коллаборатора (таймаут, не-200, битый ответ) маскируется
// деградацией до прямой линии: UI трекинга всегда должен что-то рисовать.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(cfg *config.Config, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: cfg.RoutingURL,
		httpClient: &http.Client{
			Timeout: cfg.RoutingTimeout,
		},
		logger: logger,
	}
}

// osrmResponse - ответ OSRM route API (geometries=geojson)
type osrmResponse struct {
	Code   string      `json:"code"`
	Routes []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"` // пары [lng, lat]
	} `json:"geometry"`
}

// Estimate запрашивает автомобильный маршрут от start к end.
// При любом сбое возвращает fallback-маршрут из двух точек с расстоянием
// по прямой и неизвестной длительностью; ошибок наружу не отдаёт.
func (c *Client) Estimate(ctx context.Context, start, end models.Coordinate) *models.RoutePath {
	log := c.logger.WithFields(logrus.Fields{
		"component": "routing",
		"method":    "Estimate",
	})

	if c.baseURL == "" {
		log.Debug("Routing URL is not configured, using straight-line fallback")
		return c.fallback(start, end)
	}

	url := fmt.Sprintf("%s/route/v1/driving/%s,%s;%s,%s?overview=full&geometries=geojson",
		c.baseURL,
		formatCoord(start.Longitude), formatCoord(start.Latitude),
		formatCoord(end.Longitude), formatCoord(end.Latitude),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.WithError(err).Error("Failed to create routing request")
		return c.fallback(start, end)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("Routing service unavailable, using straight-line fallback")
		return c.fallback(start, end)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithField("status_code", resp.StatusCode).Warn("Routing service returned non-OK status, using straight-line fallback")
		return c.fallback(start, end)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.WithError(err).Warn("Failed to decode routing response, using straight-line fallback")
		return c.fallback(start, end)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		log.WithField("code", body.Code).Warn("Routing service returned no routes, using straight-line fallback")
		return c.fallback(start, end)
	}

	route := body.Routes[0]
	polyline := make([]models.Coordinate, 0, len(route.Geometry.Coordinates))
	for _, pair := range route.Geometry.Coordinates {
		if len(pair) < 2 {
			log.Warn("Malformed coordinate pair in routing response, using straight-line fallback")
			return c.fallback(start, end)
		}
		polyline = append(polyline, models.Coordinate{Latitude: pair[1], Longitude: pair[0]})
	}
	if len(polyline) == 0 {
		return c.fallback(start, end)
	}

	duration := route.Duration
	return &models.RoutePath{
		Polyline:        polyline,
		DistanceMeters:  route.Distance,
		DurationSeconds: &duration,
		Fallback:        false,
		ComputedAt:      time.Now().UTC(),
	}
}

// fallback строит маршрут из двух точек по прямой; длительность неизвестна
func (c *Client) fallback(start, end models.Coordinate) *models.RoutePath {
	return &models.RoutePath{
		Polyline:        []models.Coordinate{start, end},
		DistanceMeters:  geo.DistanceMeters(start.Latitude, start.Longitude, end.Latitude, end.Longitude),
		DurationSeconds: nil,
		Fallback:        true,
		ComputedAt:      time.Now().UTC(),
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
