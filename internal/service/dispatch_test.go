package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/relay"
	relay_mocks "github.com/shenikar/emergency_dispatch_system/internal/relay/mocks"
	"github.com/shenikar/emergency_dispatch_system/internal/service/mocks"
	webhook_mocks "github.com/shenikar/emergency_dispatch_system/internal/webhook/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type dispatchMocks struct {
	incidents  *mocks.MockIncidentRepository
	responders *mocks.MockResponderRepository
	estimator  *mocks.MockRouteEstimator
	relay      *relay_mocks.MockPublisher
	webhooks   *webhook_mocks.MockPublisher
}

// newTestDispatchService — вспомогательная функция для создания сервиса с моками.
func newTestDispatchService(t *testing.T) (*dispatchService, *dispatchMocks) {
	ctrl := gomock.NewController(t)
	m := &dispatchMocks{
		incidents:  mocks.NewMockIncidentRepository(ctrl),
		responders: mocks.NewMockResponderRepository(ctrl),
		estimator:  mocks.NewMockRouteEstimator(ctrl),
		relay:      relay_mocks.NewMockPublisher(ctrl),
		webhooks:   webhook_mocks.NewMockPublisher(ctrl),
	}

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{}) // Отключаем вывод логов в тестах

	cfg := &config.Config{
		MatchRadiusMeters:         500,
		MatchFallbackRadiusMeters: 1000,
	}

	matcher := NewMatcher(m.responders, cfg, logger)
	service := NewDispatchService(m.incidents, m.responders, matcher, m.estimator, m.relay, m.webhooks, logger, cfg)
	return service.(*dispatchService), m
}

func TestCreateIncident_FanOut(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	incidentID := uuid.New()

	near := availableResponder(12.9720, 77.5950)
	alsoNear := availableResponder(12.9730, 77.5946)

	// Ожидания
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			assert.Equal(t, models.IncidentStatusPending, incident.Status)
			incident.ID = incidentID
			incident.CreatedAt = time.Now().UTC()
			return nil
		}).
		Times(1)

	m.responders.EXPECT().
		ListAvailable(ctx).
		Return([]*models.Responder{near, alsoNear}, nil).
		Times(1)

	m.incidents.EXPECT().
		CreateAlerts(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, alerts []*models.Alert) error {
			require.Len(t, alerts, 2)
			for _, alert := range alerts {
				assert.Equal(t, incidentID, alert.IncidentID)
				assert.Equal(t, models.AlertStatusPending, alert.Status)
			}
			// Оповещения идут по возрастанию расстояния
			assert.Equal(t, near.ID, alerts[0].ResponderID)
			assert.Equal(t, alsoNear.ID, alerts[1].ResponderID)
			return nil
		}).
		Times(1)

	m.relay.EXPECT().
		Publish(ctx, relay.ChannelRespondersAvailable, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventIncidentCreated, event.Type)
			assert.Equal(t, incidentID, event.IncidentID)
			return nil
		}).
		Times(1)

	m.webhooks.EXPECT().
		Publish(ctx, gomock.Any()).
		Return(nil).
		Times(1)

	// Действие
	incident, match, err := service.CreateIncident(ctx, origin, models.IncidentTypeMedical)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, incidentID, incident.ID)
	assert.Equal(t, models.IncidentStatusPending, incident.Status)
	assert.Len(t, match.Responders, 2)
	assert.Equal(t, float64(500), match.RadiusUsed)
}

func TestCreateIncident_NoCoverage(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

	// Ожидания: подбор пуст, CreateAlerts не вызывается вовсе
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			incident.ID = uuid.New()
			return nil
		}).
		Times(1)

	m.responders.EXPECT().
		ListAvailable(ctx).
		Return(nil, nil).
		Times(1)

	m.relay.EXPECT().Publish(ctx, relay.ChannelRespondersAvailable, gomock.Any()).Return(nil).Times(1)
	m.webhooks.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, match, err := service.CreateIncident(ctx, origin, models.IncidentTypeCardiac)

	// Проверки: отсутствие покрытия - не ошибка, инцидент остаётся pending
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusPending, incident.Status)
	assert.Empty(t, match.Responders)
	assert.Equal(t, float64(1000), match.RadiusUsed)
}

func TestCreateIncident_InvalidType(t *testing.T) {
	// Подготовка
	service, _ := newTestDispatchService(t)
	ctx := context.Background()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

	// Действие
	incident, match, err := service.CreateIncident(ctx, origin, models.IncidentType("earthquake"))

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.Nil(t, match)
}

func TestCreateIncident_RelayFailureDoesNotFailOperation(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

	// Ожидания: relay недоступен, операция всё равно успешна
	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			incident.ID = uuid.New()
			return nil
		}).
		Times(1)
	m.responders.EXPECT().ListAvailable(ctx).Return(nil, nil).Times(1)
	m.relay.EXPECT().
		Publish(ctx, relay.ChannelRespondersAvailable, gomock.Any()).
		Return(errors.New("redis connection refused")).
		Times(1)
	m.webhooks.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, _, err := service.CreateIncident(ctx, origin, models.IncidentTypeOther)

	// Проверки
	require.NoError(t, err)
	assert.NotNil(t, incident)
}

func TestGetIncident_Success_FromCache(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:     incidentID,
		Type:   models.IncidentTypeMedical,
		Status: models.IncidentStatusPending,
	}

	// Ожидания
	m.incidents.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)
	m.incidents.EXPECT().
		ListAlerts(ctx, incidentID).
		Return([]*models.Alert{}, nil).
		Times(1)

	// Действие
	incident, alerts, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
	assert.Empty(t, alerts)
}

func TestGetIncident_Success_FromDB(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	expectedIncident := &models.Incident{
		ID:     incidentID,
		Type:   models.IncidentTypeAccident,
		Status: models.IncidentStatusAccepted,
	}

	// Ожидания
	// 1. Промах кеша
	m.incidents.EXPECT().
		GetIncidentFromCache(ctx, incidentID).
		Return(nil, nil).
		Times(1)
	// 2. Попадание в БД и запись в кеш
	m.incidents.EXPECT().
		GetByID(ctx, incidentID).
		Return(expectedIncident, nil).
		Times(1)
	m.incidents.EXPECT().
		SetIncidentCache(ctx, expectedIncident).
		Return(nil).
		Times(1)
	m.incidents.EXPECT().
		ListAlerts(ctx, incidentID).
		Return([]*models.Alert{{IncidentID: incidentID}}, nil).
		Times(1)

	// Действие
	incident, alerts, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, expectedIncident, incident)
	assert.Len(t, alerts, 1)
}

func TestGetIncident_NotFound(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания
	m.incidents.EXPECT().GetIncidentFromCache(ctx, incidentID).Return(nil, nil).Times(1)
	m.incidents.EXPECT().GetByID(ctx, incidentID).Return(nil, ErrIncidentNotFound).Times(1)

	// Действие
	_, _, err := service.GetIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestAcceptIncident_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	acceptedIncident := &models.Incident{
		ID:                  incidentID,
		Type:                models.IncidentTypeMedical,
		Status:              models.IncidentStatusAccepted,
		AcceptedResponderID: &responderID,
	}

	// Ожидания
	m.incidents.EXPECT().
		AcceptIncident(ctx, incidentID, responderID).
		Return(acceptedIncident, nil).
		Times(1)
	m.incidents.EXPECT().
		InvalidateIncidentCache(ctx, incidentID).
		Return(nil).
		Times(1)
	m.relay.EXPECT().
		Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventAlertAccepted, event.Type)
			require.NotNil(t, event.ResponderID)
			assert.Equal(t, responderID, *event.ResponderID)
			return nil
		}).
		Times(1)
	m.webhooks.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := service.AcceptIncident(ctx, incidentID, responderID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusAccepted, incident.Status)
	assert.Equal(t, responderID, *incident.AcceptedResponderID)
}

func TestAcceptIncident_ConcurrentSingleWinner(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	// Стейтфул-мок репозитория: первый вызов выигрывает,
	// все последующие получают StateError(ErrAlreadyAccepted)
	var mu sync.Mutex
	var winner *uuid.UUID
	m.incidents.EXPECT().
		AcceptIncident(gomock.Any(), incidentID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, responderID uuid.UUID) (*models.Incident, error) {
			mu.Lock()
			defer mu.Unlock()
			if winner != nil {
				return nil, NewStateError(ErrAlreadyAccepted, models.IncidentStatusAccepted)
			}
			id := responderID
			winner = &id
			return &models.Incident{
				ID:                  incidentID,
				Status:              models.IncidentStatusAccepted,
				AcceptedResponderID: winner,
			}, nil
		}).
		Times(2)

	m.incidents.EXPECT().InvalidateIncidentCache(gomock.Any(), incidentID).Return(nil).Times(1)
	m.relay.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.webhooks.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	// Действие: оба ответчика принимают конкурентно
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, responderID := range []uuid.UUID{first, second} {
		wg.Add(1)
		go func(i int, responderID uuid.UUID) {
			defer wg.Done()
			_, results[i] = service.AcceptIncident(ctx, incidentID, responderID)
		}(i, responderID)
	}
	wg.Wait()

	// Проверки: ровно один победитель, проигравший получает ErrAlreadyAccepted
	var wins, losses int
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		losses++
		assert.ErrorIs(t, err, ErrAlreadyAccepted)
		var stateErr *StateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, models.IncidentStatusAccepted, stateErr.Current)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

func TestAcceptIncident_NotNotified(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()

	// Ожидания: у ответчика нет pending-оповещения по этому инциденту
	m.incidents.EXPECT().
		AcceptIncident(ctx, incidentID, responderID).
		Return(nil, ErrAlertNotFound).
		Times(1)

	// Действие
	incident, err := service.AcceptIncident(ctx, incidentID, responderID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.Nil(t, incident)
}

func TestDeclineIncident_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()

	// Ожидания
	m.incidents.EXPECT().
		DeclineAlert(ctx, incidentID, responderID).
		Return(nil).
		Times(1)
	m.relay.EXPECT().
		Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventAlertDeclined, event.Type)
			return nil
		}).
		Times(1)

	// Действие
	err := service.DeclineIncident(ctx, incidentID, responderID)

	// Проверки
	require.NoError(t, err)
}

func TestDeclineIncident_AlertNotFound(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()

	// Ожидания
	m.incidents.EXPECT().
		DeclineAlert(ctx, incidentID, responderID).
		Return(ErrAlertNotFound).
		Times(1)

	// Действие
	err := service.DeclineIncident(ctx, incidentID, responderID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestResolveIncident_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	resolvedAt := time.Now().UTC()
	resolvedIncident := &models.Incident{
		ID:                  incidentID,
		Type:                models.IncidentTypeMedical,
		Status:              models.IncidentStatusResolved,
		AcceptedResponderID: &responderID,
		ResolvedAt:          &resolvedAt,
	}

	// Ожидания
	m.incidents.EXPECT().
		ResolveIncident(ctx, incidentID, gomock.Any()).
		Return(resolvedIncident, nil).
		Times(1)
	m.incidents.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	m.relay.EXPECT().
		Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventIncidentResolved, event.Type)
			return nil
		}).
		Times(1)
	m.webhooks.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := service.ResolveIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)
	assert.NotNil(t, incident.ResolvedAt)
}

func TestResolveIncident_DoubleResolve(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания: инцидент уже resolved, повторное разрешение - ошибка, а не no-op
	m.incidents.EXPECT().
		ResolveIncident(ctx, incidentID, gomock.Any()).
		Return(nil, NewStateError(ErrInvalidState, models.IncidentStatusResolved)).
		Times(1)

	// Действие
	incident, err := service.ResolveIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, incident)
	assert.ErrorIs(t, err, ErrInvalidState)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.IncidentStatusResolved, stateErr.Current)
}

func TestResolveIncident_PendingIncident(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания: разрешать можно только принятый инцидент
	m.incidents.EXPECT().
		ResolveIncident(ctx, incidentID, gomock.Any()).
		Return(nil, NewStateError(ErrInvalidState, models.IncidentStatusPending)).
		Times(1)

	// Действие
	_, err := service.ResolveIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.IncidentStatusPending, stateErr.Current)
}

func TestCancelIncident_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	resolvedAt := time.Now().UTC()
	cancelledIncident := &models.Incident{
		ID:         incidentID,
		Type:       models.IncidentTypeOther,
		Status:     models.IncidentStatusResolved,
		ResolvedAt: &resolvedAt,
	}

	// Ожидания
	m.incidents.EXPECT().
		CancelIncident(ctx, incidentID, gomock.Any()).
		Return(cancelledIncident, nil).
		Times(1)
	m.incidents.EXPECT().InvalidateIncidentCache(ctx, incidentID).Return(nil).Times(1)
	m.relay.EXPECT().
		Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventIncidentCancelled, event.Type)
			return nil
		}).
		Times(1)
	m.webhooks.EXPECT().Publish(ctx, gomock.Any()).Return(nil).Times(1)

	// Действие
	incident, err := service.CancelIncident(ctx, incidentID)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, incident.Status)
}

func TestCancelIncident_AlreadyAccepted(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()

	// Ожидания: после принятия отзыв заявителем уже невозможен
	m.incidents.EXPECT().
		CancelIncident(ctx, incidentID, gomock.Any()).
		Return(nil, NewStateError(ErrInvalidState, models.IncidentStatusAccepted)).
		Times(1)

	// Действие
	_, err := service.CancelIncident(ctx, incidentID)

	// Проверки
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReportPosition_Success(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	position := models.Coordinate{Latitude: 12.9720, Longitude: 77.5950}
	reportedAt := time.Now().UTC()

	acceptedIncident := &models.Incident{
		ID:                  incidentID,
		Origin:              origin,
		Status:              models.IncidentStatusAccepted,
		AcceptedResponderID: &responderID,
	}
	estimated := &models.RoutePath{
		Polyline:       []models.Coordinate{position, origin},
		DistanceMeters: 62.1,
		Fallback:       false,
	}

	// Ожидания
	m.incidents.EXPECT().GetByID(ctx, incidentID).Return(acceptedIncident, nil).Times(2)
	m.responders.EXPECT().
		UpdateLocation(ctx, responderID, position, reportedAt).
		Return(nil).
		Times(1)
	m.estimator.EXPECT().
		Estimate(ctx, position, origin).
		Return(estimated).
		Times(1)

	// Два события в канал инцидента: позиция, затем маршрут
	gomock.InOrder(
		m.relay.EXPECT().
			Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
				assert.Equal(t, relay.EventPositionUpdated, event.Type)
				require.NotNil(t, event.Coordinate)
				assert.Equal(t, position, *event.Coordinate)
				return nil
			}),
		m.relay.EXPECT().
			Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
				assert.Equal(t, relay.EventRouteUpdated, event.Type)
				require.NotNil(t, event.Route)
				return nil
			}),
	)

	// Действие
	route, err := service.ReportPosition(ctx, incidentID, responderID, position, reportedAt)

	// Проверки
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, incidentID, route.IncidentID)
	assert.Equal(t, responderID, route.ResponderID)
	assert.False(t, route.Fallback)
}

func TestReportPosition_IncidentNotAccepted(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()

	// Ожидания
	m.incidents.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{ID: incidentID, Status: models.IncidentStatusPending}, nil).
		Times(1)

	// Действие
	route, err := service.ReportPosition(ctx, incidentID, responderID, models.Coordinate{}, time.Now().UTC())

	// Проверки
	require.Error(t, err)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReportPosition_WrongResponder(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	accepted := uuid.New()
	intruder := uuid.New()

	// Ожидания
	m.incidents.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{
			ID:                  incidentID,
			Status:              models.IncidentStatusAccepted,
			AcceptedResponderID: &accepted,
		}, nil).
		Times(1)

	// Действие
	route, err := service.ReportPosition(ctx, incidentID, intruder, models.Coordinate{}, time.Now().UTC())

	// Проверки: позицию транслирует только принявший ответчик
	require.Error(t, err)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestReportPosition_StaleReportDropped(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	position := models.Coordinate{Latitude: 12.9720, Longitude: 77.5950}
	reportedAt := time.Now().UTC().Add(-time.Minute)

	// Ожидания: метка отчёта старше сохранённой, запись не перезаписывается
	m.incidents.EXPECT().
		GetByID(ctx, incidentID).
		Return(&models.Incident{
			ID:                  incidentID,
			Status:              models.IncidentStatusAccepted,
			AcceptedResponderID: &responderID,
		}, nil).
		Times(1)
	m.responders.EXPECT().
		UpdateLocation(ctx, responderID, position, reportedAt).
		Return(ErrStaleLocation).
		Times(1)

	// Действие
	route, err := service.ReportPosition(ctx, incidentID, responderID, position, reportedAt)

	// Проверки
	require.Error(t, err)
	assert.Nil(t, route)
	assert.ErrorIs(t, err, ErrStaleLocation)
}

// TestDispatch_FullLifecycle прогоняет полный цикл инцидента на стейтфул-моках:
// создание с подбором, принятие, отчёт о позиции с пересчётом маршрута,
// разрешение и отказ на повторное разрешение.
func TestDispatch_FullLifecycle(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	position := models.Coordinate{Latitude: 12.9720, Longitude: 77.5950}
	responder := availableResponder(position.Latitude, position.Longitude)

	// Состояние инцидента, разделяемое между вызовами моков
	var mu sync.Mutex
	state := &models.Incident{Origin: origin, Type: models.IncidentTypeCardiac}

	m.incidents.EXPECT().
		Create(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, incident *models.Incident) error {
			mu.Lock()
			defer mu.Unlock()
			incident.ID = uuid.New()
			state.ID = incident.ID
			state.Status = models.IncidentStatusPending
			return nil
		}).
		Times(1)
	m.responders.EXPECT().ListAvailable(ctx).Return([]*models.Responder{responder}, nil).Times(1)
	m.incidents.EXPECT().CreateAlerts(ctx, gomock.Any()).Return(nil).Times(1)

	m.incidents.EXPECT().
		AcceptIncident(ctx, gomock.Any(), responder.ID).
		DoAndReturn(func(_ context.Context, _, responderID uuid.UUID) (*models.Incident, error) {
			mu.Lock()
			defer mu.Unlock()
			if state.Status != models.IncidentStatusPending {
				return nil, NewStateError(ErrAlreadyAccepted, state.Status)
			}
			state.Status = models.IncidentStatusAccepted
			state.AcceptedResponderID = &responder.ID
			snapshot := *state
			return &snapshot, nil
		}).
		Times(1)

	m.incidents.EXPECT().
		GetByID(ctx, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID) (*models.Incident, error) {
			mu.Lock()
			defer mu.Unlock()
			snapshot := *state
			return &snapshot, nil
		}).
		AnyTimes()

	m.responders.EXPECT().UpdateLocation(ctx, responder.ID, position, gomock.Any()).Return(nil).Times(1)
	m.estimator.EXPECT().
		Estimate(ctx, position, origin).
		Return(&models.RoutePath{
			Polyline:       []models.Coordinate{position, origin},
			DistanceMeters: 62.1,
			Fallback:       true,
			ComputedAt:     time.Now().UTC(),
		}).
		Times(1)

	m.incidents.EXPECT().
		ResolveIncident(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ uuid.UUID, resolvedAt time.Time) (*models.Incident, error) {
			mu.Lock()
			defer mu.Unlock()
			if state.Status != models.IncidentStatusAccepted {
				return nil, NewStateError(ErrInvalidState, state.Status)
			}
			state.Status = models.IncidentStatusResolved
			state.ResolvedAt = &resolvedAt
			snapshot := *state
			return &snapshot, nil
		}).
		Times(2)

	m.incidents.EXPECT().InvalidateIncidentCache(ctx, gomock.Any()).Return(nil).AnyTimes()
	m.relay.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	m.webhooks.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	// Действие и проверки, шаг за шагом

	// 1. SOS: ответчик в ~62 метрах попадает в первичный радиус
	incident, match, err := service.CreateIncident(ctx, origin, models.IncidentTypeCardiac)
	require.NoError(t, err)
	require.Len(t, match.Responders, 1)
	assert.Equal(t, float64(500), match.RadiusUsed)

	// 2. Принятие
	accepted, err := service.AcceptIncident(ctx, incident.ID, responder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusAccepted, accepted.Status)

	// 3. Отчёт о позиции пересчитывает маршрут
	route, err := service.ReportPosition(ctx, incident.ID, responder.ID, position, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, route)
	assert.Equal(t, incident.ID, route.IncidentID)

	// 4. Разрешение
	resolved, err := service.ResolveIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)

	// 5. Повторное разрешение обязано провалиться
	_, err = service.ResolveIncident(ctx, incident.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReportPosition_RouteDiscardedAfterResolve(t *testing.T) {
	// Подготовка
	service, m := newTestDispatchService(t)
	ctx := context.Background()
	incidentID := uuid.New()
	responderID := uuid.New()
	origin := models.Coordinate{Latitude: 12.9716, Longitude: 77.5946}
	position := models.Coordinate{Latitude: 12.9720, Longitude: 77.5950}
	reportedAt := time.Now().UTC()

	// Ожидания: пока маршрутизатор отвечал, инцидент разрешили
	gomock.InOrder(
		m.incidents.EXPECT().
			GetByID(ctx, incidentID).
			Return(&models.Incident{
				ID:                  incidentID,
				Origin:              origin,
				Status:              models.IncidentStatusAccepted,
				AcceptedResponderID: &responderID,
			}, nil),
		m.incidents.EXPECT().
			GetByID(ctx, incidentID).
			Return(&models.Incident{
				ID:     incidentID,
				Origin: origin,
				Status: models.IncidentStatusResolved,
			}, nil),
	)
	m.responders.EXPECT().
		UpdateLocation(ctx, responderID, position, reportedAt).
		Return(nil).
		Times(1)
	m.estimator.EXPECT().
		Estimate(ctx, position, origin).
		Return(&models.RoutePath{Polyline: []models.Coordinate{position, origin}}).
		Times(1)
	// Публикуется только позиция, событие маршрута для завершённого инцидента не выходит
	m.relay.EXPECT().
		Publish(ctx, relay.IncidentChannel(incidentID), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, event relay.Event) error {
			assert.Equal(t, relay.EventPositionUpdated, event.Type)
			return nil
		}).
		Times(1)

	// Действие
	route, err := service.ReportPosition(ctx, incidentID, responderID, position, reportedAt)

	// Проверки: маршрут отброшен без ошибки
	require.NoError(t, err)
	assert.Nil(t, route)
}
