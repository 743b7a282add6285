package gnss

import "math"

const (
	earthSemiMajor  = 6378137.0
	earthFlattening = 1.0 / 298.257223563
)

// Geodetic is latitude/longitude in radians and ellipsoidal height in metres.
type Geodetic struct {
	Lat float64
	Lon float64
	Hgt float64
}

// ECEFToGeodetic converts WGS84 ECEF coordinates to geodetic coordinates
// by fixed-point iteration on latitude.
func ECEFToGeodetic(r [3]float64) Geodetic {
	e2 := earthFlattening * (2.0 - earthFlattening)
	r2 := r[0]*r[0] + r[1]*r[1]
	z := r[2]
	zk := 0.0
	v := earthSemiMajor
	for math.Abs(z-zk) >= 1e-4 {
		zk = z
		sinp := z / math.Sqrt(r2+z*z)
		v = earthSemiMajor / math.Sqrt(1.0-e2*sinp*sinp)
		z = r[2] + v*e2*sinp
	}

	var g Geodetic
	switch {
	case r2 > 1e-12:
		g.Lat = math.Atan(z / math.Sqrt(r2))
		g.Lon = math.Atan2(r[1], r[0])
	case r[2] > 0:
		g.Lat = math.Pi / 2
	default:
		g.Lat = -math.Pi / 2
	}
	g.Hgt = math.Sqrt(r2+z*z) - v
	return g
}

// ECEFToENU rotates the ECEF difference vector d into the local frame at ref.
func ECEFToENU(ref [3]float64, d [3]float64) ENU {
	g := ECEFToGeodetic(ref)
	sinp, cosp := math.Sin(g.Lat), math.Cos(g.Lat)
	sinl, cosl := math.Sin(g.Lon), math.Cos(g.Lon)
	return ENU{
		E: -sinl*d[0] + cosl*d[1],
		N: -sinp*cosl*d[0] - sinp*sinl*d[1] + cosp*d[2],
		U: cosp*cosl*d[0] + cosp*sinl*d[1] + sinp*d[2],
	}
}
