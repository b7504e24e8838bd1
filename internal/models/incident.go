package models

import (
	"time"

	"github.com/google/uuid"
)

// IncidentType - тип экстренной ситуации
type IncidentType string

const (
	IncidentTypeMedical  IncidentType = "medical"
	IncidentTypeAccident IncidentType = "accident"
	IncidentTypeCardiac  IncidentType = "cardiac"
	IncidentTypeOther    IncidentType = "other"
)

// IsValid проверяет, что тип инцидента входит в допустимый набор
func (t IncidentType) IsValid() bool {
	switch t {
	case IncidentTypeMedical, IncidentTypeAccident, IncidentTypeCardiac, IncidentTypeOther:
		return true
	}
	return false
}

// IncidentStatus - статус жизненного цикла инцидента.
// Переходы строго монотонны: pending -> accepted -> resolved.
type IncidentStatus string

const (
	IncidentStatusPending  IncidentStatus = "pending"
	IncidentStatusAccepted IncidentStatus = "accepted"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// Incident представляет один SOS-запрос от создания до разрешения.
// AcceptedResponderID записывается ровно один раз, при переходе в accepted.
type Incident struct {
	ID                  uuid.UUID      `json:"id"`
	Origin              Coordinate     `json:"origin"`
	Type                IncidentType   `json:"type"`
	Status              IncidentStatus `json:"status"`
	AcceptedResponderID *uuid.UUID     `json:"accepted_responder_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	ResolvedAt          *time.Time     `json:"resolved_at,omitempty"`
}
