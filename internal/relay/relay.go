package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// ChannelRespondersAvailable - широковещательный канал для доступных ответчиков.
// Подписчики, подключившиеся после публикации, событие не получают: доставка
// at-most-once, без повтора и без очереди для отключённых.
const ChannelRespondersAvailable = "responders:available"

// IncidentChannel возвращает имя канала конкретного инцидента
func IncidentChannel(incidentID uuid.UUID) string {
	return fmt.Sprintf("incident:%s", incidentID)
}

// EventType - тип события реального времени
type EventType string

const (
	EventIncidentCreated   EventType = "incident.created"
	EventAlertAccepted     EventType = "alert.accepted"
	EventAlertDeclined     EventType = "alert.declined"
	EventPositionUpdated   EventType = "position.updated"
	EventRouteUpdated      EventType = "route.updated"
	EventIncidentResolved  EventType = "incident.resolved"
	EventIncidentCancelled EventType = "incident.cancelled"
)

// Event - событие, доставляемое подписчикам канала инцидента
// или широковещательного канала ответчиков
type Event struct {
	Type        EventType          `json:"type"`
	IncidentID  uuid.UUID          `json:"incident_id"`
	ResponderID *uuid.UUID         `json:"responder_id,omitempty"`
	Coordinate  *models.Coordinate `json:"coordinate,omitempty"`
	Route       *models.RoutePath  `json:"route,omitempty"`
	RadiusUsed  float64            `json:"radius_used,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

//go:generate mockgen -source=relay.go -destination=mocks/mock_relay.go -package=mocks

// Publisher - интерфейс публикации событий в канал
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Subscriber - интерфейс подписки на канал событий
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
}

// RedisRelay - реализация Publisher/Subscriber поверх Redis Pub/Sub.
// Доставка fire-and-forget: ошибки публикации логируются на стороне вызывающего
// и не превращают инициирующую операцию в неуспешную.
type RedisRelay struct {
	redisClient *redis.Client
	logger      *logrus.Logger
}

func NewRedisRelay(client *redis.Client, logger *logrus.Logger) *RedisRelay {
	return &RedisRelay{
		redisClient: client,
		logger:      logger,
	}
}

// Publish публикует событие в канал
func (r *RedisRelay) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}

	if err := r.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish relay event to %s: %w", channel, err)
	}
	return nil
}

// Subscribe подписывается на канал и возвращает канал событий.
// Канал закрывается при отмене контекста. Медленный потребитель события теряет:
// уровень relay не буферизует сверх небольшого окна и не ждёт подтверждений.
func (r *RedisRelay) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	sub := r.redisClient.Subscribe(ctx, channel)

	// Дожидаемся подтверждения подписки, чтобы подписчик канала инцидента
	// гарантированно был присоединён с момента создания
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.WithError(err).WithField("channel", channel).
						Error("Failed to unmarshal relay event")
					continue
				}
				select {
				case events <- event:
				default:
					r.logger.WithField("channel", channel).
						Warn("Relay subscriber is slow, dropping event")
				}
			}
		}
	}()

	return events, nil
}
