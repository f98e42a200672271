package geolink

import (
	"errors"
)

// FailureKind classifies why a link could not be resolved.
type FailureKind string

// Failure kinds reported by Resolver and Client.
const (
	FailureMalformedInput FailureKind = "malformed_input"
	FailureUnresolvable   FailureKind = "unresolvable"
	FailureNoCoordinates  FailureKind = "no_coordinates"
	FailureTransport      FailureKind = "transport"
)

const (
	// ReasonMalformedInput is reported when the input is neither a coordinate link nor a short link.
	ReasonMalformedInput = "no coordinates found; paste a Google Maps link or enter lat,lng"
	// ReasonMapLinkWithoutCoordinates is reported for a map link that carries no coordinates and is not a short link.
	ReasonMapLinkWithoutCoordinates = "this map link doesn't include coordinates; open the place and copy the link containing '@lat,lng'"
	// ReasonNoRedirect is reported when the short link does not redirect anywhere.
	ReasonNoRedirect = "short link did not redirect to a map location"
	// ReasonNoCoordinates is reported when the short link expands to a place without coordinates.
	ReasonNoCoordinates = "this short link doesn't expose coordinates; try the '@lat,lng' full-map link instead"
	// ReasonTransport is reported when neither the expansion service nor the direct fetch succeeded.
	ReasonTransport = "could not reach the link expansion service"
	// ReasonExpansionDisabled is reported when a short link needs expansion but no expander is configured.
	ReasonExpansionDisabled = "short link needs expansion but expansion is disabled"

	failureSeparator = ": "
)

// Failure is the single failure outcome for expected resolution problems.
// Reason is suitable for showing to a user; Err carries the underlying cause.
type Failure struct {
	Kind   FailureKind
	Reason string
	Err    error
}

func (failure *Failure) Error() string {
	if failure.Err == nil {
		return failure.Reason
	}
	return failure.Reason + failureSeparator + failure.Err.Error()
}

func (failure *Failure) Unwrap() error {
	return failure.Err
}

// FailureKindOf reports the kind of the first *Failure in err's chain.
func FailureKindOf(err error) (FailureKind, bool) {
	var failure *Failure
	if !errors.As(err, &failure) {
		return "", false
	}
	return failure.Kind, true
}

func newFailure(kind FailureKind, reason string, cause error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: cause}
}
