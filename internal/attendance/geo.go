package attendance

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used by Distance.
	EarthRadiusMeters = 6371000.0
	// DefaultMaxDistanceMeters is the check-in radius when none is configured.
	DefaultMaxDistanceMeters = 200.0
)

// Point is a geographic position in signed decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates is a device fix: a point plus its reported accuracy in meters.
type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy  float64 `json:"accuracy" validate:"gte=0"`
}

// Point drops the accuracy.
func (c Coordinates) Point() Point {
	return Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// Validation is the outcome of a geofence check.
type Validation struct {
	IsValid        bool    `json:"is_valid"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := lat2 - lat1
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// rounding can push h slightly outside [0, 1] near antipodes
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ValidateLocation checks current against a circle of maxDistanceMeters around
// target. The boundary is inclusive. A non-positive radius means the default.
func ValidateLocation(current Coordinates, target Point, maxDistanceMeters float64) Validation {
	if maxDistanceMeters <= 0 {
		maxDistanceMeters = DefaultMaxDistanceMeters
	}
	d := Distance(current.Point(), target)
	return Validation{IsValid: d <= maxDistanceMeters, DistanceMeters: d}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
