package v1

import "github.com/shenikar/emergency_dispatch_system/internal/models"

// ModelToIncidentResponse преобразует доменную модель в DTO для ответа
func ModelToIncidentResponse(model *models.Incident) *IncidentResponse {
	return &IncidentResponse{
		ID:                  model.ID,
		Latitude:            model.Origin.Latitude,
		Longitude:           model.Origin.Longitude,
		Type:                string(model.Type),
		Status:              string(model.Status),
		AcceptedResponderID: model.AcceptedResponderID,
		CreatedAt:           model.CreatedAt,
		ResolvedAt:          model.ResolvedAt,
	}
}

// ModelsToAlertResponses преобразует слайс оповещений в слайс DTO
func ModelsToAlertResponses(alerts []*models.Alert) []*AlertResponse {
	responses := make([]*AlertResponse, len(alerts))
	for i, alert := range alerts {
		responses[i] = &AlertResponse{
			ResponderID:    alert.ResponderID,
			Status:         string(alert.Status),
			DistanceMeters: alert.DistanceMeters,
			SentAt:         alert.SentAt,
		}
	}
	return responses
}

// ModelToRouteResponse преобразует маршрут в DTO для ответа
func ModelToRouteResponse(route *models.RoutePath) *RouteResponse {
	polyline := make([]CoordinateDTO, len(route.Polyline))
	for i, c := range route.Polyline {
		polyline[i] = CoordinateDTO{Latitude: c.Latitude, Longitude: c.Longitude}
	}
	return &RouteResponse{
		Polyline:        polyline,
		DistanceMeters:  route.DistanceMeters,
		DurationSeconds: route.DurationSeconds,
		Fallback:        route.Fallback,
		ComputedAt:      route.ComputedAt,
	}
}

// ModelToResponderResponse преобразует доменную модель ответчика в DTO
func ModelToResponderResponse(model *models.Responder) *ResponderResponse {
	resp := &ResponderResponse{
		ID:             model.ID,
		Available:      model.Available,
		LastReportedAt: model.LastReportedAt,
		CreatedAt:      model.CreatedAt,
	}
	if model.Coordinate != nil {
		resp.Latitude = &model.Coordinate.Latitude
		resp.Longitude = &model.Coordinate.Longitude
	}
	return resp
}
