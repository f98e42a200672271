package linkparser

import (
	"regexp"

	"github.com/coalsense/geolink/internal/coordinates"
)

const (
	decimalPairPattern = `(-?\d+\.\d+),(-?\d+\.\d+)`

	ruleNameAtSign      = "at_sign"
	ruleNameQuery       = "query_q"
	ruleNameLatLng      = "query_ll"
	ruleNamePlace       = "place_path"
	ruleNameCenter      = "query_center"
	ruleNameSource      = "query_saddr"
	ruleNameDestination = "query_daddr"
	ruleNameBarePair    = "bare_pair"

	latitudeGroupIndex  = 1
	longitudeGroupIndex = 2
)

// Strategy attempts to extract a coordinate from a raw input string.
type Strategy interface {
	Attempt(input string) (coordinates.Coordinate, bool)
}

// PatternRule is a regular-expression extraction strategy with fixed capture groups.
type PatternRule struct {
	Name           string
	Expression     *regexp.Regexp
	LatitudeGroup  int
	LongitudeGroup int
}

var (
	atSignRule = newPatternRule(ruleNameAtSign, `@`+decimalPairPattern)

	// Most specific first: the bare pair is anchored and tried last so it never
	// matches a fragment of a longer URL.
	defaultRules = []PatternRule{
		atSignRule,
		newPatternRule(ruleNameQuery, `[?&]q=`+decimalPairPattern),
		newPatternRule(ruleNameLatLng, `[?&]ll=`+decimalPairPattern),
		newPatternRule(ruleNamePlace, `/place/`+decimalPairPattern),
		newPatternRule(ruleNameCenter, `[?&]center=`+decimalPairPattern),
		newPatternRule(ruleNameSource, `[?&]saddr=`+decimalPairPattern),
		newPatternRule(ruleNameDestination, `[?&]daddr=`+decimalPairPattern),
		newPatternRule(ruleNameBarePair, `^`+decimalPairPattern+`$`),
	}
)

// MustPatternRule compiles pattern into a rule whose first two groups are
// latitude and longitude. It panics on an invalid pattern.
func MustPatternRule(name string, pattern string) PatternRule {
	return newPatternRule(name, pattern)
}

func newPatternRule(name string, pattern string) PatternRule {
	return PatternRule{
		Name:           name,
		Expression:     regexp.MustCompile(pattern),
		LatitudeGroup:  latitudeGroupIndex,
		LongitudeGroup: longitudeGroupIndex,
	}
}

// Rules returns a copy of the default rule table in priority order.
func Rules() []PatternRule {
	return append([]PatternRule{}, defaultRules...)
}

// Attempt matches the rule against input and validates the captured pair.
// A syntactic match with out-of-range values reports false.
func (rule PatternRule) Attempt(input string) (coordinates.Coordinate, bool) {
	if rule.Expression == nil {
		return coordinates.Coordinate{}, false
	}
	match := rule.Expression.FindStringSubmatch(input)
	if match == nil || len(match) <= rule.LatitudeGroup || len(match) <= rule.LongitudeGroup {
		return coordinates.Coordinate{}, false
	}
	coordinate, err := coordinates.ParseDecimal(match[rule.LatitudeGroup], match[rule.LongitudeGroup])
	if err != nil {
		return coordinates.Coordinate{}, false
	}
	return coordinate, true
}
