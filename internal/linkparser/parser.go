package linkparser

import (
	"strings"

	"github.com/coalsense/geolink/internal/coordinates"
)

const (
	shortLinkMarkerAppDomain = "maps.app.goo.gl"
	shortLinkMarkerGooGl     = "goo.gl/maps"
	mapsLinkMarkerGoogle     = "google.com/maps"
	mapsLinkMarkerMaps       = "maps.google.com"

	outcomeNameUnresolved      = "unresolved"
	outcomeNameResolved        = "resolved"
	outcomeNameExpansionNeeded = "expansion_needed"
)

var (
	shortLinkMarkers = []string{shortLinkMarkerAppDomain, shortLinkMarkerGooGl}
	mapsLinkMarkers  = []string{mapsLinkMarkerGoogle, mapsLinkMarkerMaps, shortLinkMarkerAppDomain, shortLinkMarkerGooGl}
)

// Outcome tags the result of a single synchronous resolution attempt.
type Outcome int

const (
	// OutcomeUnresolved means no strategy matched and no expansion applies.
	OutcomeUnresolved Outcome = iota
	// OutcomeResolved means a strategy produced a valid coordinate.
	OutcomeResolved
	// OutcomeExpansionNeeded means the input looks like a shortened link.
	OutcomeExpansionNeeded
)

// String returns the snake_case outcome name.
func (outcome Outcome) String() string {
	switch outcome {
	case OutcomeResolved:
		return outcomeNameResolved
	case OutcomeExpansionNeeded:
		return outcomeNameExpansionNeeded
	default:
		return outcomeNameUnresolved
	}
}

// Attempt is the result of Parse.
type Attempt struct {
	Outcome      Outcome
	Coordinate   coordinates.Coordinate
	CandidateURL string
}

// Resolved reports whether the attempt produced a coordinate.
func (attempt Attempt) Resolved() bool {
	return attempt.Outcome == OutcomeResolved
}

// Parse runs the default rule table against input.
func Parse(input string) Attempt {
	return ParseWith(input, defaultStrategies()...)
}

// ParseWith runs strategies in order; the first valid coordinate wins.
func ParseWith(input string, strategies ...Strategy) Attempt {
	trimmedInput := strings.TrimSpace(input)
	if trimmedInput == "" {
		return Attempt{Outcome: OutcomeUnresolved}
	}
	for _, strategy := range strategies {
		if strategy == nil {
			continue
		}
		if coordinate, ok := strategy.Attempt(trimmedInput); ok {
			return Attempt{Outcome: OutcomeResolved, Coordinate: coordinate}
		}
	}
	if IsShortenedLink(trimmedInput) {
		return Attempt{Outcome: OutcomeExpansionNeeded, CandidateURL: trimmedInput}
	}
	return Attempt{Outcome: OutcomeUnresolved}
}

// ExtractRedirectTarget applies only the @lat,lng rule, the shape map links
// take after a shortener redirect.
func ExtractRedirectTarget(targetURL string) (coordinates.Coordinate, bool) {
	return atSignRule.Attempt(targetURL)
}

// IsShortenedLink reports whether input carries a known map link shortener marker.
func IsShortenedLink(input string) bool {
	return containsAny(input, shortLinkMarkers)
}

// LooksLikeMapsLink reports whether pasted text is worth resolving automatically.
func LooksLikeMapsLink(input string) bool {
	return containsAny(input, mapsLinkMarkers)
}

func defaultStrategies() []Strategy {
	strategies := make([]Strategy, 0, len(defaultRules))
	for _, rule := range defaultRules {
		strategies = append(strategies, rule)
	}
	return strategies
}

func containsAny(input string, markers []string) bool {
	lowered := strings.ToLower(input)
	for _, marker := range markers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
