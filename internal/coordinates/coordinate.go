package coordinates

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

const (
	minimumLatitude  = -90.0
	maximumLatitude  = 90.0
	minimumLongitude = -180.0
	maximumLongitude = 180.0
	decimalPlaces    = 6
	displayFormat    = "%.6f,%.6f"
	decimalFormat    = 'f'
	float64BitSize   = 64

	manualEntryPattern = `^\s*(-?\d+\.\d+)\s*,\s*(-?\d+\.\d+)\s*$`

	errMessageLatitudeOutOfRange  = "latitude must be between -90 and 90"
	errMessageLongitudeOutOfRange = "longitude must be between -180 and 180"
	errMessageNotFinite           = "coordinate values must be finite numbers"
	errMessageManualFormat        = "coordinates must be entered as lat,lng (e.g. 23.5937,78.9629)"
)

var (
	// ErrLatitudeOutOfRange indicates a latitude outside [-90, 90].
	ErrLatitudeOutOfRange = errors.New(errMessageLatitudeOutOfRange)
	// ErrLongitudeOutOfRange indicates a longitude outside [-180, 180].
	ErrLongitudeOutOfRange = errors.New(errMessageLongitudeOutOfRange)
	// ErrNotFinite indicates a NaN or infinite component.
	ErrNotFinite = errors.New(errMessageNotFinite)
	// ErrManualFormat indicates manual input that is not shaped like lat,lng.
	ErrManualFormat = errors.New(errMessageManualFormat)

	manualEntryRegex = regexp.MustCompile(manualEntryPattern)

	precisionScale = math.Pow10(decimalPlaces)
)

// Coordinate is a validated geographic point rounded to six decimal places.
// The zero value is the point 0,0 and is valid.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// New validates latitude and longitude and returns the normalized Coordinate.
func New(latitude float64, longitude float64) (Coordinate, error) {
	if math.IsNaN(latitude) || math.IsInf(latitude, 0) || math.IsNaN(longitude) || math.IsInf(longitude, 0) {
		return Coordinate{}, ErrNotFinite
	}
	if latitude < minimumLatitude || latitude > maximumLatitude {
		return Coordinate{}, fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, latitude)
	}
	if longitude < minimumLongitude || longitude > maximumLongitude {
		return Coordinate{}, fmt.Errorf("%w: %v", ErrLongitudeOutOfRange, longitude)
	}
	return Coordinate{Latitude: round(latitude), Longitude: round(longitude)}, nil
}

// ParseDecimal parses two decimal strings and validates them as a Coordinate.
func ParseDecimal(latitudeText string, longitudeText string) (Coordinate, error) {
	latitude, err := strconv.ParseFloat(latitudeText, float64BitSize)
	if err != nil {
		return Coordinate{}, fmt.Errorf("parse latitude %q: %w", latitudeText, err)
	}
	longitude, err := strconv.ParseFloat(longitudeText, float64BitSize)
	if err != nil {
		return Coordinate{}, fmt.Errorf("parse longitude %q: %w", longitudeText, err)
	}
	return New(latitude, longitude)
}

// ParseManual parses free-typed "lat,lng" text, tolerating surrounding whitespace.
func ParseManual(text string) (Coordinate, error) {
	match := manualEntryRegex.FindStringSubmatch(text)
	if len(match) < 3 {
		return Coordinate{}, ErrManualFormat
	}
	return ParseDecimal(match[1], match[2])
}

// String renders the coordinate as "lat,lng" with six decimal places.
func (coordinate Coordinate) String() string {
	return fmt.Sprintf(displayFormat, coordinate.Latitude, coordinate.Longitude)
}

// LatitudeText renders the latitude with six decimal places.
func (coordinate Coordinate) LatitudeText() string {
	return strconv.FormatFloat(coordinate.Latitude, decimalFormat, decimalPlaces, float64BitSize)
}

// LongitudeText renders the longitude with six decimal places.
func (coordinate Coordinate) LongitudeText() string {
	return strconv.FormatFloat(coordinate.Longitude, decimalFormat, decimalPlaces, float64BitSize)
}

func round(value float64) float64 {
	rounded := math.Round(value*precisionScale) / precisionScale
	if rounded == 0 {
		return 0
	}
	return rounded
}
