package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shenikar/emergency_dispatch_system/internal/relay"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
)

// Handler отдаёт живые ленты событий relay поверх websocket.
// Доставка best-effort: медленный или отключившийся клиент просто теряет
// соединение, никакой буферизации или повторной доставки нет.
type Handler struct {
	subscriber relay.Subscriber
	logger     *logrus.Logger
	upgrader   websocket.Upgrader
}

func NewHandler(subscriber relay.Subscriber, logger *logrus.Logger) *Handler {
	return &Handler{
		subscriber: subscriber,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Ядро не занимается сессиями браузера, отсечение по Origin - забота обратного прокси
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes регистрирует websocket-маршруты живых лент
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/incidents/:id", h.incidentFeed)
	router.GET("/ws/responders", h.responderFeed)
}

// incidentFeed - лента событий конкретного инцидента: принятие/отказ,
// позиции принятого ответчика, маршруты, разрешение
func (h *Handler) incidentFeed(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	h.stream(c, relay.IncidentChannel(id))
}

// responderFeed - широковещательная лента новых инцидентов для доступных ответчиков
func (h *Handler) responderFeed(c *gin.Context) {
	h.stream(c, relay.ChannelRespondersAvailable)
}

func (h *Handler) stream(c *gin.Context, channel string) {
	log := h.logger.WithField("ws_channel", channel)

	// Подписываемся до апгрейда: подписчик присоединён к каналу с самого начала
	events, err := h.subscriber.Subscribe(c.Request.Context(), channel)
	if err != nil {
		log.WithError(err).Error("Failed to subscribe to relay channel")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Error("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()
	log.Info("Websocket subscriber connected")

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	// Читающая горутина нужна только чтобы заметить закрытие со стороны клиента
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("Websocket subscriber disconnected")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.WithError(err).Debug("Websocket ping failed, dropping subscriber")
				return
			}
		case event, ok := <-events:
			if !ok {
				// Подписка закрыта (остановка сервера)
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.WithError(err).Debug("Websocket write failed, dropping subscriber")
				return
			}
		}
	}
}
