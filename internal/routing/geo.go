package routing

import (
	"math"

	"github.com/sells-group/comms-cli/internal/model"
)

const earthRadiusKM = 6371.0

// distanceKM is the great-circle distance between two WGS84 points. It
// returns false when either point is missing.
func distanceKM(a, b *model.GeoPoint) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return haversineKM(a.Lat, a.Lon, b.Lat, b.Lon), true
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
