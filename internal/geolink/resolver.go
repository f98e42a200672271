package geolink

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/linkparser"
)

const (
	defaultConcurrency = 8

	logMessageInputUnresolved = "input did not resolve"
	logFieldInput             = "input"
	logFieldOutcome           = "outcome"
)

// LinkExpander resolves a shortened link that needs network expansion.
type LinkExpander interface {
	ExpandAndResolve(ctx context.Context, candidateURL string) (coordinates.Coordinate, error)
}

// ResolverConfig configures a Resolver. A nil Expander disables network expansion.
type ResolverConfig struct {
	Expander    LinkExpander
	Concurrency int
	Logger      *zap.Logger
}

// Resolution pairs a batch input with its outcome.
type Resolution struct {
	Input      string
	Coordinate coordinates.Coordinate
	Err        error
}

// Resolver composes the synchronous link parser with network expansion.
type Resolver struct {
	expander    LinkExpander
	concurrency int
	logger      *zap.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(configuration ResolverConfig) *Resolver {
	concurrency := configuration.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		expander:    configuration.Expander,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Check classifies input without performing any I/O.
func (resolver *Resolver) Check(input string) linkparser.Attempt {
	return linkparser.Parse(input)
}

// Resolve returns the coordinate input points at, expanding shortened links
// when needed. Input the link rules leave unresolved is read as manual
// "lat,lng" entry and never causes I/O.
func (resolver *Resolver) Resolve(ctx context.Context, input string) (coordinates.Coordinate, error) {
	attempt := resolver.Check(input)
	switch attempt.Outcome {
	case linkparser.OutcomeResolved:
		return attempt.Coordinate, nil
	case linkparser.OutcomeExpansionNeeded:
		if resolver.expander == nil {
			return coordinates.Coordinate{}, newFailure(FailureUnresolvable, ReasonExpansionDisabled, nil)
		}
		coordinate, err := resolver.expander.ExpandAndResolve(ctx, attempt.CandidateURL)
		if err != nil {
			resolver.logger.Debug(logMessageInputUnresolved, zap.String(logFieldInput, input), zap.Error(err))
			return coordinates.Coordinate{}, err
		}
		return coordinate, nil
	default:
		resolver.logger.Debug(logMessageInputUnresolved, zap.String(logFieldInput, input), zap.Stringer(logFieldOutcome, attempt.Outcome))
		return resolveManualEntry(input)
	}
}

// resolveManualEntry accepts typed "lat , lng" text that the link rules
// reject and otherwise reports what the input is missing.
func resolveManualEntry(input string) (coordinates.Coordinate, error) {
	coordinate, err := coordinates.ParseManual(input)
	if err == nil {
		return coordinate, nil
	}
	var cause error
	if !errors.Is(err, coordinates.ErrManualFormat) {
		cause = err
	}
	reason := ReasonMalformedInput
	if linkparser.LooksLikeMapsLink(input) {
		reason = ReasonMapLinkWithoutCoordinates
	}
	return coordinates.Coordinate{}, newFailure(FailureMalformedInput, reason, cause)
}

// ResolveMany resolves inputs concurrently and returns one Resolution per
// input in the same order. A failing input never cancels the others.
func (resolver *Resolver) ResolveMany(ctx context.Context, inputs []string) []Resolution {
	resolutions := make([]Resolution, len(inputs))
	var group errgroup.Group
	group.SetLimit(resolver.concurrency)

	for index, input := range inputs {
		index, input := index, input
		group.Go(func() error {
			resolutions[index].Input = input
			if ctxErr := ctx.Err(); ctxErr != nil {
				resolutions[index].Err = newFailure(FailureTransport, ReasonTransport, ctxErr)
				return nil
			}
			coordinate, err := resolver.Resolve(ctx, input)
			resolutions[index].Coordinate = coordinate
			resolutions[index].Err = err
			return nil
		})
	}
	_ = group.Wait()
	return resolutions
}
