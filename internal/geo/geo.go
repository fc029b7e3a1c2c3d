// Package geo holds the location value type shared by requests, locum
// profiles and bookings, and the great-circle distance between them.
package geo

import (
	"math"
	"strconv"
	"strings"
)

const earthRadiusKm = 6371.0

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a display address plus coordinates when they are known.
type Location struct {
	Address     string       `json:"address"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// ParseLocation interprets raw once at the entry boundary. A "lat,lon" pair
// yields coordinates; anything else is kept as a free-text address.
func ParseLocation(raw string) Location {
	raw = strings.TrimSpace(raw)
	loc := Location{Address: raw}
	if c, ok := ParseCoordinates(raw); ok {
		loc.Coordinates = &c
	}
	return loc
}

// ParseCoordinates parses "lat,lon". It fails on anything that is not two
// comma separated floats within geographic bounds.
func ParseCoordinates(raw string) (Coordinates, bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return Coordinates{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Coordinates{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Coordinates{}, false
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Coordinates{}, false
	}
	return Coordinates{Lat: lat, Lon: lon}, true
}

// FromColumns rebuilds a Location from its persisted columns.
func FromColumns(address string, lat, lon *float64) Location {
	loc := Location{Address: address}
	if lat != nil && lon != nil {
		loc.Coordinates = &Coordinates{Lat: *lat, Lon: *lon}
	}
	return loc
}

// Columns splits a Location into the values stored in postgres.
func (l Location) Columns() (address string, lat, lon *float64) {
	if l.Coordinates == nil {
		return l.Address, nil, nil
	}
	la, lo := l.Coordinates.Lat, l.Coordinates.Lon
	return l.Address, &la, &lo
}

// Haversine returns the great-circle distance between a and b in km.
func Haversine(a, b Coordinates) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLon := degreesToRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(a.Lat))*math.Cos(degreesToRadians(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// DistanceKm is Haversine over two locations; ok is false when either side
// has no coordinates.
func DistanceKm(a, b Location) (km float64, ok bool) {
	if a.Coordinates == nil || b.Coordinates == nil {
		return 0, false
	}
	return Haversine(*a.Coordinates, *b.Coordinates), true
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
