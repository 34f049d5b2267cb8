// Package polyline encodes and decodes route geometry in Google's polyline
// format (precision 5, as returned by OpenRouteService) and provides the
// great-circle helpers the route planner needs for degraded routes.
package polyline

import (
	"math"
)

// earthRadiusMeters is the mean Earth radius used by Distance.
const earthRadiusMeters = 6371008.8

// Point is a geographic position in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Decode turns an encoded polyline into its points.
// Returns nil for an empty string.
func Decode(encoded string) []Point {
	if encoded == "" {
		return nil
	}

	points := make([]Point, 0, len(encoded)/4)
	var lat, lon int
	pos := 0

	for pos < len(encoded) {
		var dLat, dLon int
		dLat, pos = readValue(encoded, pos)
		dLon, pos = readValue(encoded, pos)
		lat += dLat
		lon += dLon
		points = append(points, Point{Lat: float64(lat) / 1e5, Lon: float64(lon) / 1e5})
	}

	return points
}

func readValue(encoded string, pos int) (int, int) {
	var result, shift int
	for pos < len(encoded) {
		chunk := int(encoded[pos]) - 63
		pos++
		result |= (chunk & 0x1f) << shift
		shift += 5
		if chunk < 0x20 {
			break
		}
	}

	if result&1 == 1 {
		return ^(result >> 1), pos
	}
	return result >> 1, pos
}

// Encode turns points into an encoded polyline.
func Encode(points []Point) string {
	if len(points) == 0 {
		return ""
	}

	out := make([]byte, 0, len(points)*6)
	var prevLat, prevLon int
	for _, p := range points {
		lat := int(math.Round(p.Lat * 1e5))
		lon := int(math.Round(p.Lon * 1e5))
		out = writeValue(out, lat-prevLat)
		out = writeValue(out, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return string(out)
}

func writeValue(out []byte, v int) []byte {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		out = append(out, byte((u&0x1f)|0x20)+63)
		u >>= 5
	}
	return append(out, byte(u)+63)
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	const rad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(s)))
}

// Length returns the summed segment distance of a path in meters.
func Length(points []Point) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// Thin returns the indexes of at most max evenly spaced points of a path of
// length n. The first index is always 0 and the last is always n-1.
func Thin(n, max int) []int {
	if n <= 0 || max <= 0 {
		return nil
	}
	if n <= max {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if max == 1 {
		return []int{0}
	}

	idx := make([]int, 0, max)
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		j := int(math.Round(float64(i) * step))
		if len(idx) > 0 && idx[len(idx)-1] == j {
			continue
		}
		idx = append(idx, j)
	}
	idx[len(idx)-1] = n - 1
	return idx
}
