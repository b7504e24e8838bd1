package models

// MatchedResponder - ответчик с расстоянием до точки инцидента
type MatchedResponder struct {
	Responder      *Responder
	DistanceMeters float64
}

// MatchResult - результат подбора: кандидаты по возрастанию расстояния
// и радиус, давший непустой результат (fallback-радиус, если результат пуст)
type MatchResult struct {
	Responders []MatchedResponder
	RadiusUsed float64
}
