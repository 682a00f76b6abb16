package location

import (
	"math"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
)

const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance between two fixes in meters
func Distance(a, b models.LocationSnapshot) float64 {
	return haversine(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Movement between two fixes, for diagnostics
type Movement struct {
	DistanceMeters float64
	Elapsed        time.Duration
	SpeedKmh       float64 // derived from distance and elapsed time
	ReportedKmh    float64 // as reported by the receiver in the later fix
}

func MovementBetween(from, to models.LocationSnapshot) Movement {
	m := Movement{
		DistanceMeters: Distance(from, to),
		Elapsed:        to.CapturedAt.Sub(from.CapturedAt),
		ReportedKmh:    to.SpeedKmh,
	}
	if m.Elapsed > 0 {
		m.SpeedKmh = m.DistanceMeters / m.Elapsed.Seconds() * 3.6
	}
	return m
}
