package metadata

import (
	"math"
	"time"

	"github.com/not-nullexception/ziply/internal/library/models"
)

// GPSFromLocation builds a GPS block from a location sample. Tag names follow
// the EXIF GPS IFD so the bag merges cleanly with extracted data.
func GPSFromLocation(loc models.Location) PropertyBag {
	gps := PropertyBag{
		"GPSLatitude":     math.Abs(loc.Latitude),
		"GPSLatitudeRef":  hemisphere(loc.Latitude, "N", "S"),
		"GPSLongitude":    math.Abs(loc.Longitude),
		"GPSLongitudeRef": hemisphere(loc.Longitude, "E", "W"),
	}

	if loc.VerticalAccuracy >= 0 {
		gps["GPSAltitude"] = math.Abs(loc.Altitude)
		if loc.Altitude >= 0 {
			gps["GPSAltitudeRef"] = 0
		} else {
			gps["GPSAltitudeRef"] = 1
		}
	}

	ts := loc.Timestamp.UTC()
	gps["GPSDateStamp"] = ts.Format("2006:01:02")
	gps["GPSTimeStamp"] = ts.Format("15:04:05")

	// m/s to km/h
	if loc.Speed >= 0 {
		gps["GPSSpeed"] = loc.Speed * 3.6
		gps["GPSSpeedRef"] = "K"
	}

	if loc.Course >= 0 {
		gps["GPSTrack"] = loc.Course
		gps["GPSTrackRef"] = "T"
	}

	return gps
}

func hemisphere(v float64, positive, negative string) string {
	if v >= 0 {
		return positive
	}
	return negative
}

// Location reads the GPS block back into a location sample. Coordinates may
// be decimal degrees or degree/minute/second triples. It returns nil without
// both coordinates.
func (m *Metadata) Location() *models.Location {
	if m == nil || len(m.GPS) == 0 {
		return nil
	}
	lat, okLat := degrees(m.GPS["GPSLatitude"])
	lon, okLon := degrees(m.GPS["GPSLongitude"])
	if !okLat || !okLon {
		return nil
	}
	if m.GPS["GPSLatitudeRef"] == "S" {
		lat = -lat
	}
	if m.GPS["GPSLongitudeRef"] == "W" {
		lon = -lon
	}

	loc := &models.Location{
		Latitude:         lat,
		Longitude:        lon,
		VerticalAccuracy: -1,
		Speed:            -1,
		Course:           -1,
	}
	if alt, ok := m.GPS["GPSAltitude"].(float64); ok {
		loc.Altitude = alt
		loc.VerticalAccuracy = 0
		if ref, ok := m.GPS["GPSAltitudeRef"].(int); ok && ref == 1 {
			loc.Altitude = -alt
		}
	}
	if speed, ok := m.GPS["GPSSpeed"].(float64); ok && m.GPS["GPSSpeedRef"] == "K" {
		loc.Speed = speed / 3.6
	}
	if track, ok := m.GPS["GPSTrack"].(float64); ok {
		loc.Course = track
	}
	if date, ok := m.GPS["GPSDateStamp"].(string); ok {
		if t, err := time.Parse("2006:01:02", date); err == nil {
			loc.Timestamp = t
		}
	}
	return loc
}

// CaptureDate returns DateTimeOriginal, falling back to the IFD0 DateTime.
func (m *Metadata) CaptureDate() (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	for _, v := range []any{m.Exif["DateTimeOriginal"], m.TIFF["DateTime"]} {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if t, err := time.ParseInLocation(exifDateLayout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

const exifDateLayout = "2006:01:02 15:04:05"

func degrees(v any) (float64, bool) {
	switch d := v.(type) {
	case float64:
		return d, true
	case []float64:
		if len(d) != 3 {
			return 0, false
		}
		return d[0] + d[1]/60 + d[2]/3600, true
	default:
		return 0, false
	}
}
