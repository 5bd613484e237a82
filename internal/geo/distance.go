package geo

import (
	"github.com/tidwall/geodesic"
	"github.com/tkjaer/rttdist/internal/shared"
)

// Distance returns the geodesic distance in kilometers between a and b on
// the WGS-84 ellipsoid.
func Distance(a, b shared.Coordinate) float64 {
	var s12, azi1, azi2 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, &azi1, &azi2)
	return s12 / 1000
}
