package relay

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRelay — вспомогательная функция для создания relay поверх встроенного Redis
func newTestRelay(t *testing.T) (*RedisRelay, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	return NewRedisRelay(client, logger), mr
}

func TestIncidentChannel(t *testing.T) {
	// Подготовка
	incidentID := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	// Действие
	channel := IncidentChannel(incidentID)

	// Проверки
	assert.Equal(t, "incident:6ba7b810-9dad-11d1-80b4-00c04fd430c8", channel)
}

func TestRedisRelay_PublishSubscribe(t *testing.T) {
	// Подготовка
	relay, _ := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incidentID := uuid.New()
	channel := IncidentChannel(incidentID)

	events, err := relay.Subscribe(ctx, channel)
	require.NoError(t, err)

	// Действие
	err = relay.Publish(ctx, channel, Event{
		Type:       EventAlertAccepted,
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)

	// Проверки
	select {
	case event := <-events:
		assert.Equal(t, EventAlertAccepted, event.Type)
		assert.Equal(t, incidentID, event.IncidentID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
}

func TestRedisRelay_SubscribeClosesOnContextCancel(t *testing.T) {
	// Подготовка
	relay, _ := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := relay.Subscribe(ctx, ChannelRespondersAvailable)
	require.NoError(t, err)

	// Действие
	cancel()

	// Проверки: канал событий закрывается, подписчик не зависает
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed after context cancellation")
	}
}

func TestRedisRelay_SkipsMalformedPayload(t *testing.T) {
	// Подготовка
	relay, mr := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incidentID := uuid.New()
	channel := IncidentChannel(incidentID)

	events, err := relay.Subscribe(ctx, channel)
	require.NoError(t, err)

	// Действие: мусор в канале пропускается, следующее событие доставляется
	mr.Publish(channel, "not-json")
	require.NoError(t, relay.Publish(ctx, channel, Event{
		Type:       EventIncidentResolved,
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
	}))

	// Проверки
	select {
	case event := <-events:
		assert.Equal(t, EventIncidentResolved, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event after malformed payload")
	}
}

func TestRedisRelay_DropsEventsWhenSubscriberSlow(t *testing.T) {
	// Подготовка
	relay, _ := newTestRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incidentID := uuid.New()
	channel := IncidentChannel(incidentID)

	events, err := relay.Subscribe(ctx, channel)
	require.NoError(t, err)

	// Действие: подписчик не читает, публикуем больше окна буферизации
	const published = 40
	for i := 0; i < published; i++ {
		require.NoError(t, relay.Publish(ctx, channel, Event{
			Type:       EventPositionUpdated,
			IncidentID: incidentID,
			Timestamp:  time.Now().UTC(),
		}))
	}

	// Ждём, пока окно заполнится, излишек отбрасывается
	require.Eventually(t, func() bool {
		return len(events) == cap(events)
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	// Проверки: дошло не менее окна, но отброшенные события не доезжают позже
	received := 0
drain:
	for {
		select {
		case <-events:
			received++
		default:
			break drain
		}
	}
	assert.GreaterOrEqual(t, received, cap(events))
	assert.Less(t, received, published)
}
