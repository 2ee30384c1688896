package services

import (
	"math"

	"seatcheck/internal/models"
)

// SignalSource is the one contract all three exit detectors reduce to: arm
// with a session's baselines, stream possible-exit events into the sink,
// disarm. Sources keep no session state beyond their baselines and are purely
// sensors; debounce and grace policy live in the arbiter.
//
// An unauthorized source arms to permanent silence, never an error.
type SignalSource interface {
	Kind() models.SignalKind
	Arm(session *models.Session)
	Disarm()
	SetAuthorization(state models.AuthorizationState)
	Authorization() models.AuthorizationState
}

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(a, b models.GeoPoint) float64 {
	const earthRadiusMeters = 6371000

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
