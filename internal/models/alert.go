package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertStatus - статус оповещения одного ответчика об одном инциденте
type AlertStatus string

const (
	AlertStatusPending  AlertStatus = "pending"
	AlertStatusAccepted AlertStatus = "accepted"
	AlertStatusDeclined AlertStatus = "declined"
	// AlertStatusSuperseded - терминальный статус, когда принятие другого ответчика выиграло гонку
	AlertStatusSuperseded AlertStatus = "superseded"
)

// Alert - запись об оповещении одного ответчика об одном инциденте.
// Инвариант: не более одного Alert на инцидент может достичь статуса accepted.
type Alert struct {
	IncidentID     uuid.UUID   `json:"incident_id"`
	ResponderID    uuid.UUID   `json:"responder_id"`
	Status         AlertStatus `json:"status"`
	DistanceMeters float64     `json:"distance_meters"`
	SentAt         time.Time   `json:"sent_at"`
}
