package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
)

const (
	webhookQueueKey = "dispatch_webhook_events"
)

// EventType - тип события жизненного цикла инцидента
type EventType string

const (
	EventIncidentCreated   EventType = "incident.created"
	EventIncidentAccepted  EventType = "incident.accepted"
	EventIncidentResolved  EventType = "incident.resolved"
	EventIncidentCancelled EventType = "incident.cancelled"
)

// Event - структура для данных вебхука о переходе инцидента.
// Доставляется во внешний шлюз уведомлений (push-слой вне ядра).
type Event struct {
	Type          EventType           `json:"type"`
	IncidentID    uuid.UUID           `json:"incident_id"`
	IncidentType  models.IncidentType `json:"incident_type,omitempty"`
	ResponderID   *uuid.UUID          `json:"responder_id,omitempty"`
	Origin        models.Coordinate   `json:"origin"`
	NotifiedCount int                 `json:"notified_count,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
}

//go:generate mockgen -source=publisher.go -destination=mocks/mock_publisher.go -package=mocks

// Publisher - интерфейс для публикации вебхуков
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher - реализация Publisher, использующая Redis
type RedisPublisher struct {
	redisClient *redis.Client
}

// NewRedisPublisher создает новый RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
	}
}

// Publish публикует событие вебхука в очередь Redis
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}

	// Используем LPUSH для добавления события в левую часть списка (очереди)
	if err := p.redisClient.LPush(ctx, webhookQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish webhook event to Redis: %w", err)
	}
	return nil
}
