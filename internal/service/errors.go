package service

import (
	"errors"
	"fmt"

	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

// Типизированные ошибки ядра диспетчеризации.
// NoCoverage ошибкой не является: пустой результат матчера - валидный бизнес-исход.
var (
	ErrResponderNotFound = errors.New("responder not found")
	ErrIncidentNotFound  = errors.New("incident not found")
	// ErrAlertNotFound - для ответчика нет pending-оповещения (не был оповещён или уже отказался)
	ErrAlertNotFound = errors.New("pending alert not found")
	// ErrAlreadyAccepted - инцидент уже принят другим ответчиком (проигрыш гонки)
	ErrAlreadyAccepted = errors.New("incident already accepted")
	// ErrInvalidState - операция запрещена в текущем статусе инцидента
	ErrInvalidState = errors.New("invalid incident state")
	// ErrStaleLocation - отчёт о позиции старше уже сохранённого и был отброшен
	ErrStaleLocation = errors.New("stale location report")
)

// StateError оборачивает ErrAlreadyAccepted/ErrInvalidState и несёт текущий статус,
// чтобы вызывающая сторона могла отличить проигрыш гонки от некорректного запроса.
type StateError struct {
	Err     error
	Current models.IncidentStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Err, e.Current)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// NewStateError создает StateError с текущим статусом инцидента
func NewStateError(err error, current models.IncidentStatus) *StateError {
	return &StateError{Err: err, Current: current}
}
