package ws

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shenikar/emergency_dispatch_system/internal/relay"
	relay_mocks "github.com/shenikar/emergency_dispatch_system/internal/relay/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestServer поднимает тестовый сервер с websocket-маршрутами и моком подписчика
func newTestServer(t *testing.T) (*relay_mocks.MockSubscriber, *httptest.Server) {
	ctrl := gomock.NewController(t)
	subscriberMock := relay_mocks.NewMockSubscriber(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(subscriberMock, logger).RegisterRoutes(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return subscriberMock, server
}

func TestIncidentFeed_DeliversEvents(t *testing.T) {
	// Подготовка
	subscriberMock, server := newTestServer(t)
	incidentID := uuid.New()
	responderID := uuid.New()

	events := make(chan relay.Event, 1)
	subscriberMock.EXPECT().
		Subscribe(gomock.Any(), relay.IncidentChannel(incidentID)).
		Return((<-chan relay.Event)(events), nil).
		Times(1)

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/incidents/" + incidentID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Действие: публикуем событие принятия в канал инцидента
	events <- relay.Event{
		Type:        relay.EventAlertAccepted,
		IncidentID:  incidentID,
		ResponderID: &responderID,
		Timestamp:   time.Now().UTC(),
	}

	// Проверки
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var received relay.Event
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, relay.EventAlertAccepted, received.Type)
	assert.Equal(t, incidentID, received.IncidentID)
	require.NotNil(t, received.ResponderID)
	assert.Equal(t, responderID, *received.ResponderID)
}

func TestIncidentFeed_ClosesWhenSubscriptionEnds(t *testing.T) {
	// Подготовка
	subscriberMock, server := newTestServer(t)
	incidentID := uuid.New()

	events := make(chan relay.Event)
	subscriberMock.EXPECT().
		Subscribe(gomock.Any(), relay.IncidentChannel(incidentID)).
		Return((<-chan relay.Event)(events), nil).
		Times(1)

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/incidents/" + incidentID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Действие: сервер останавливает подписку
	close(events)

	// Проверки: клиент получает корректное закрытие, а не обрыв
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))
}

func TestIncidentFeed_InvalidID(t *testing.T) {
	// Подготовка
	_, server := newTestServer(t)

	// Действие
	resp, err := http.Get(server.URL + "/ws/incidents/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Проверки
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResponderFeed_DeliversBroadcast(t *testing.T) {
	// Подготовка
	subscriberMock, server := newTestServer(t)
	incidentID := uuid.New()

	events := make(chan relay.Event, 1)
	subscriberMock.EXPECT().
		Subscribe(gomock.Any(), relay.ChannelRespondersAvailable).
		Return((<-chan relay.Event)(events), nil).
		Times(1)

	wsURL := strings.Replace(server.URL, "http", "ws", 1) + "/ws/responders"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Действие
	events <- relay.Event{
		Type:       relay.EventIncidentCreated,
		IncidentID: incidentID,
		RadiusUsed: 500,
		Timestamp:  time.Now().UTC(),
	}

	// Проверки
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, err := readNextJSON(conn)
	require.NoError(t, err)

	var received relay.Event
	require.NoError(t, json.Unmarshal(raw, &received))
	assert.Equal(t, relay.EventIncidentCreated, received.Type)
	assert.Equal(t, float64(500), received.RadiusUsed)
}

// readNextJSON пропускает служебные фреймы и возвращает первый текстовый
func readNextJSON(conn *websocket.Conn) ([]byte, error) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return payload, nil
		}
	}
}
