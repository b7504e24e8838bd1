package geo

import "math"

// earthRadiusMeters - средний радиус Земли для сферического приближения
const earthRadiusMeters = 6371000.0

// DistanceMeters вычисляет расстояние по дуге большого круга между двумя точками
// по формуле гаверсинусов. Чистая функция, валидность координат не проверяет -
// за границы диапазонов отвечает вызывающая сторона.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
