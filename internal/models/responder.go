package models

import (
	"time"

	"github.com/google/uuid"
)

// Responder представляет сертифицированного ответчика в справочнике.
// Coordinate равен nil, пока ответчик ни разу не сообщил своё местоположение.
type Responder struct {
	ID             uuid.UUID   `json:"id"`
	Coordinate     *Coordinate `json:"coordinate,omitempty"`
	Available      bool        `json:"available"`
	LastReportedAt *time.Time  `json:"last_reported_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
