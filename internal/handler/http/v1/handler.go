package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/config"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	dispatchService  service.DispatchService
	responderService service.ResponderService
	logger           *logrus.Logger
	validate         *validator.Validate
	cfg              *config.Config
}

func NewHandler(dispatchService service.DispatchService, responderService service.ResponderService, logger *logrus.Logger, cfg *config.Config) *Handler {
	return &Handler{
		dispatchService:  dispatchService,
		responderService: responderService,
		logger:           logger,
		validate:         validator.New(),
		cfg:              cfg,
	}
}

// @Summary Create a new incident (SOS)
// @Description Raise an SOS: creates a pending incident, matches nearby responders and fans out alerts. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param incident body CreateIncidentRequest true "Incident creation request"
// @Success 201 {object} CreateIncidentResponse
// @Failure 400 {object} map[string]string "Invalid request body or validation error"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /incidents [post]
func (h *Handler) createIncident(c *gin.Context) {
	var input CreateIncidentRequest
	log := h.logger.WithField("method", "createIncident")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	origin := models.Coordinate{Latitude: *input.Latitude, Longitude: *input.Longitude}
	incident, match, err := h.dispatchService.CreateIncident(c.Request.Context(), origin, models.IncidentType(input.Type))
	if err != nil {
		log.WithError(err).Error("Failed to create incident in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, CreateIncidentResponse{
		Incident:      ModelToIncidentResponse(incident),
		NotifiedCount: len(match.Responders),
		RadiusUsed:    match.RadiusUsed,
	})
}

// @Summary Get incident by ID
// @Description Get a single incident with its alerts. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentDetailResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Router /incidents/{id} [get]
func (h *Handler) getIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "getIncident").WithField("id", id)

	incident, alerts, err := h.dispatchService.GetIncident(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).Warn("Failed to get incident from service")
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, IncidentDetailResponse{
		Incident: ModelToIncidentResponse(incident),
		Alerts:   ModelsToAlertResponses(alerts),
	})
}

// @Summary Accept an incident
// @Description Accept an incident on behalf of a notified responder. First accept wins; the rest get a conflict. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param action body AlertActionRequest true "Accepting responder"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "No pending alert for this responder"
// @Failure 409 {object} map[string]string "Incident already accepted"
// @Router /incidents/{id}/accept [post]
func (h *Handler) acceptIncident(c *gin.Context) {
	id, responderID, ok := h.bindAlertAction(c)
	if !ok {
		return
	}
	log := h.logger.WithField("method", "acceptIncident").WithField("id", id)

	incident, err := h.dispatchService.AcceptIncident(c.Request.Context(), id, responderID)
	if err != nil {
		log.WithError(err).Info("Accept rejected")
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Decline an incident
// @Description Decline a pending alert; a repeated decline is a no-op. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param action body AlertActionRequest true "Declining responder"
// @Success 204 "No Content"
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "No alert for this responder"
// @Router /incidents/{id}/decline [post]
func (h *Handler) declineIncident(c *gin.Context) {
	id, responderID, ok := h.bindAlertAction(c)
	if !ok {
		return
	}
	log := h.logger.WithField("method", "declineIncident").WithField("id", id)

	if err := h.dispatchService.DeclineIncident(c.Request.Context(), id, responderID); err != nil {
		log.WithError(err).Warn("Failed to decline incident")
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Resolve an incident
// @Description Resolve an accepted incident. A second resolve fails with a conflict. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Incident is not in accepted state"
// @Router /incidents/{id}/resolve [post]
func (h *Handler) resolveIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "resolveIncident").WithField("id", id)

	incident, err := h.dispatchService.ResolveIncident(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).Info("Resolve rejected")
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Cancel an incident
// @Description Cancel a pending incident before anyone accepts it. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} IncidentResponse
// @Failure 400 {object} map[string]string "Invalid incident ID"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident not found"
// @Failure 409 {object} map[string]string "Incident is not pending"
// @Router /incidents/{id}/cancel [post]
func (h *Handler) cancelIncident(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "cancelIncident").WithField("id", id)

	incident, err := h.dispatchService.CancelIncident(c.Request.Context(), id)
	if err != nil {
		log.WithError(err).Info("Cancel rejected")
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModelToIncidentResponse(incident))
}

// @Summary Report accepted responder position
// @Description Report the accepted responder's position; recomputes the route to the incident origin. Requires API key.
// @Tags Incidents
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Incident ID"
// @Param position body PositionReportRequest true "Position report"
// @Success 200 {object} RouteResponse
// @Failure 400 {object} map[string]string "Invalid incident ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Incident or responder not found"
// @Failure 409 {object} map[string]string "Incident is not accepted"
// @Router /incidents/{id}/position [post]
func (h *Handler) reportPosition(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return
	}
	log := h.logger.WithField("method", "reportPosition").WithField("id", id)

	var input PositionReportRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	responderID, err := uuid.Parse(input.ResponderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responder ID"})
		return
	}

	reportedAt := time.Now().UTC()
	if input.ReportedAt != nil {
		reportedAt = *input.ReportedAt
	}

	coordinate := models.Coordinate{Latitude: *input.Latitude, Longitude: *input.Longitude}
	route, err := h.dispatchService.ReportPosition(c.Request.Context(), id, responderID, coordinate, reportedAt)
	if err != nil {
		if errors.Is(err, service.ErrStaleLocation) {
			// Опоздавший отчёт отброшен, для клиента это не ошибка
			c.JSON(http.StatusOK, gin.H{"stale": true})
			return
		}
		log.WithError(err).Info("Position report rejected")
		h.respondServiceError(c, err)
		return
	}
	if route == nil {
		// Инцидент завершился, пока считался маршрут
		c.JSON(http.StatusOK, gin.H{"route": nil})
		return
	}
	c.JSON(http.StatusOK, ModelToRouteResponse(route))
}

// @Summary Register a responder
// @Description Create a responder record in the directory. Requires API key.
// @Tags Responders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param responder body RegisterResponderRequest true "Responder registration request"
// @Success 201 {object} ResponderResponse
// @Failure 400 {object} map[string]string "Invalid request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /responders [post]
func (h *Handler) registerResponder(c *gin.Context) {
	var input RegisterResponderRequest
	log := h.logger.WithField("method", "registerResponder")

	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	responder := &models.Responder{Available: input.Available}
	if err := h.responderService.Register(c.Request.Context(), responder); err != nil {
		log.WithError(err).Error("Failed to register responder in service")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, ModelToResponderResponse(responder))
}

// @Summary Update responder availability
// @Description Toggle responder availability, optionally reporting a position. Requires API key.
// @Tags Responders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Responder ID"
// @Param availability body AvailabilityRequest true "Availability update"
// @Success 200 "OK"
// @Failure 400 {object} map[string]string "Invalid responder ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Responder not found"
// @Router /responders/{id}/availability [put]
func (h *Handler) setAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responder ID"})
		return
	}
	log := h.logger.WithField("method", "setAvailability").WithField("id", id)

	var input AvailabilityRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (input.Latitude == nil) != (input.Longitude == nil) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude must be provided together"})
		return
	}

	var coordinate *models.Coordinate
	if input.Latitude != nil {
		coordinate = &models.Coordinate{Latitude: *input.Latitude, Longitude: *input.Longitude}
	}

	if err := h.responderService.SetAvailability(c.Request.Context(), id, *input.Available, coordinate); err != nil {
		log.WithError(err).Warn("Failed to update availability in service")
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// @Summary Update responder location
// @Description Report a responder position outside of an incident. Stale reports are dropped. Requires API key.
// @Tags Responders
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Responder ID"
// @Param location body LocationUpdateRequest true "Location update"
// @Success 200 "OK"
// @Failure 400 {object} map[string]string "Invalid responder ID or request body"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Responder not found"
// @Router /responders/{id}/location [put]
func (h *Handler) updateLocation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responder ID"})
		return
	}
	log := h.logger.WithField("method", "updateLocation").WithField("id", id)

	var input LocationUpdateRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		log.WithError(err).Warn("Failed to bind JSON")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.validate.Struct(input); err != nil {
		log.WithError(err).Warn("Validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	coordinate := models.Coordinate{Latitude: *input.Latitude, Longitude: *input.Longitude}
	if err := h.responderService.UpdateLocation(c.Request.Context(), id, coordinate); err != nil {
		if errors.Is(err, service.ErrStaleLocation) {
			c.JSON(http.StatusOK, gin.H{"stale": true})
			return
		}
		log.WithError(err).Warn("Failed to update location in service")
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// @Summary Get application health status
// @Description Get health status of the application
// @Tags System
// @Accept json
// @Produce json
// @Success 200 {object} map[string]string "Status OK"
// @Router /system/health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bindAlertAction разбирает id инцидента из пути и responder_id из тела
func (h *Handler) bindAlertAction(c *gin.Context) (incidentID, responderID uuid.UUID, ok bool) {
	incidentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident ID"})
		return uuid.Nil, uuid.Nil, false
	}

	var input AlertActionRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return uuid.Nil, uuid.Nil, false
	}
	if err := h.validate.Struct(input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return uuid.Nil, uuid.Nil, false
	}

	responderID, err = uuid.Parse(input.ResponderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responder ID"})
		return uuid.Nil, uuid.Nil, false
	}
	return incidentID, responderID, true
}

// respondServiceError отображает типизированные ошибки сервиса на HTTP-статусы.
// Для StateError в ответ добавляется текущий статус, чтобы клиент мог отличить
// проигрыш гонки от некорректного запроса.
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	var stateErr *service.StateError
	switch {
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":          stateErr.Err.Error(),
			"current_status": string(stateErr.Current),
		})
	case errors.Is(err, service.ErrIncidentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
	case errors.Is(err, service.ErrResponderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "responder not found"})
	case errors.Is(err, service.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending alert for this responder"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
