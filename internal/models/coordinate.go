package models

// Coordinate - неизменяемая пара географических координат (WGS84)
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
