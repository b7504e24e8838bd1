package v1

import (
	"time"

	"github.com/google/uuid"
)

// CreateIncidentRequest DTO для создания инцидента (SOS).
// Координаты - указатели: нулевые широта и долгота - валидные значения,
// required отличает их от отсутствующего поля.
type CreateIncidentRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
	Type      string   `json:"type" validate:"required,oneof=medical accident cardiac other"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Latitude            float64    `json:"latitude"`
	Longitude           float64    `json:"longitude"`
	Type                string     `json:"type"`
	Status              string     `json:"status"`
	AcceptedResponderID *uuid.UUID `json:"accepted_responder_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
}

// CreateIncidentResponse DTO для ответа на создание: инцидент плюс итог рассылки
// @Description DTO для ответа на создание инцидента
type CreateIncidentResponse struct {
	Incident      *IncidentResponse `json:"incident"`
	NotifiedCount int               `json:"notified_count"`
	RadiusUsed    float64           `json:"radius_used"`
}

// AlertResponse DTO для оповещения одного ответчика
// @Description DTO для оповещения одного ответчика
type AlertResponse struct {
	ResponderID    uuid.UUID `json:"responder_id"`
	Status         string    `json:"status"`
	DistanceMeters float64   `json:"distance_meters"`
	SentAt         time.Time `json:"sent_at"`
}

// IncidentDetailResponse DTO для инцидента с его оповещениями
// @Description DTO для инцидента с его оповещениями
type IncidentDetailResponse struct {
	Incident *IncidentResponse `json:"incident"`
	Alerts   []*AlertResponse  `json:"alerts"`
}

// AlertActionRequest DTO для принятия/отклонения инцидента ответчиком
// @Description DTO для принятия/отклонения инцидента
type AlertActionRequest struct {
	ResponderID string `json:"responder_id" validate:"required,uuid"`
}

// PositionReportRequest DTO для отчёта о позиции принятого ответчика
// @Description DTO для отчёта о позиции ответчика
type PositionReportRequest struct {
	ResponderID string     `json:"responder_id" validate:"required,uuid"`
	Latitude    *float64   `json:"latitude" validate:"required,latitude"`
	Longitude   *float64   `json:"longitude" validate:"required,longitude"`
	ReportedAt  *time.Time `json:"reported_at,omitempty"`
}

// RouteResponse DTO для пересчитанного маршрута
// @Description DTO для маршрута от ответчика к инциденту
type RouteResponse struct {
	Polyline        []CoordinateDTO `json:"polyline"`
	DistanceMeters  float64         `json:"distance_meters"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Fallback        bool            `json:"fallback"`
	ComputedAt      time.Time       `json:"computed_at"`
}

// CoordinateDTO - пара координат в теле ответа
type CoordinateDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RegisterResponderRequest DTO для регистрации ответчика в справочнике
// @Description DTO для регистрации ответчика
type RegisterResponderRequest struct {
	Available bool `json:"available"`
}

// AvailabilityRequest DTO для переключения доступности ответчика
// @Description DTO для переключения доступности
type AvailabilityRequest struct {
	Available *bool    `json:"available" validate:"required"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// LocationUpdateRequest DTO для обновления позиции ответчика
// @Description DTO для обновления позиции
type LocationUpdateRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

// ResponderResponse DTO для ответа с информацией об ответчике
// @Description DTO для ответа с информацией об ответчике
type ResponderResponse struct {
	ID             uuid.UUID  `json:"id"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Available      bool       `json:"available"`
	LastReportedAt *time.Time `json:"last_reported_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
