package models

import (
	"time"

	"github.com/google/uuid"
)

// RoutePath - маршрут от ответчика к точке инцидента.
// Эфемерный: пересчитывается на каждое обновление позиции и не хранится в бд.
// Fallback=true означает деградацию до прямой линии при недоступности маршрутизатора,
// DurationSeconds в этом случае неизвестен (nil).
type RoutePath struct {
	IncidentID      uuid.UUID    `json:"incident_id"`
	ResponderID     uuid.UUID    `json:"responder_id"`
	Polyline        []Coordinate `json:"polyline"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	Fallback        bool         `json:"fallback"`
	ComputedAt      time.Time    `json:"computed_at"`
}
