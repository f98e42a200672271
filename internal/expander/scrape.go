package expander

import (
	"strings"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/linkparser"
)

const (
	htmlSingleQuoteCharacter = "'"
	htmlDoubleQuoteCharacter = `"`

	centerJSONPattern = `"center":\{"lat":(-?\d+\.\d+),"lng":(-?\d+\.\d+)\}`
	staticMapPattern  = `maps\.googleapis\.com/maps/api/staticmap\?center=(-?\d+\.\d+)(?:,|%2C)(-?\d+\.\d+)`
)

type scrapeHeuristic struct {
	source string
	rule   linkparser.PatternRule
}

// Embedded JSON is preferred over the static map preview image.
var scrapeHeuristics = []scrapeHeuristic{
	{source: SourceHTMLCenterJSON, rule: linkparser.MustPatternRule(SourceHTMLCenterJSON, centerJSONPattern)},
	{source: SourceHTMLStaticMap, rule: linkparser.MustPatternRule(SourceHTMLStaticMap, staticMapPattern)},
}

// ScrapeCoordinates searches page HTML for an embedded map center and reports
// which heuristic matched. These heuristics track upstream markup and are not
// exhaustive.
func ScrapeCoordinates(htmlContent string) (coordinates.Coordinate, string, bool) {
	if strings.TrimSpace(htmlContent) == "" {
		return coordinates.Coordinate{}, "", false
	}
	normalizedHTML := strings.ReplaceAll(htmlContent, htmlSingleQuoteCharacter, htmlDoubleQuoteCharacter)
	for _, heuristic := range scrapeHeuristics {
		if coordinate, ok := heuristic.rule.Attempt(normalizedHTML); ok {
			return coordinate, heuristic.source, true
		}
	}
	return coordinates.Coordinate{}, "", false
}
