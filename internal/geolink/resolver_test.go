package geolink_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/geolink"
	"github.com/coalsense/geolink/internal/linkparser"
)

type expanderStub struct {
	mu       sync.Mutex
	results  map[string]coordinates.Coordinate
	err      error
	received []string
}

func (stub *expanderStub) ExpandAndResolve(_ context.Context, candidateURL string) (coordinates.Coordinate, error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.received = append(stub.received, candidateURL)
	if stub.err != nil {
		return coordinates.Coordinate{}, stub.err
	}
	coordinate, ok := stub.results[candidateURL]
	if !ok {
		return coordinates.Coordinate{}, &geolink.Failure{Kind: geolink.FailureNoCoordinates, Reason: geolink.ReasonNoCoordinates}
	}
	return coordinate, nil
}

type concurrencyProbe struct {
	active  atomic.Int32
	maximum atomic.Int32
}

func (probe *concurrencyProbe) ExpandAndResolve(ctx context.Context, candidateURL string) (coordinates.Coordinate, error) {
	current := probe.active.Add(1)
	defer probe.active.Add(-1)
	for {
		observed := probe.maximum.Load()
		if current <= observed || probe.maximum.CompareAndSwap(observed, current) {
			break
		}
	}
	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
		return coordinates.Coordinate{}, ctx.Err()
	}
	return coordinates.New(1.5, 2.5)
}

func mustCoordinate(t *testing.T, latitude float64, longitude float64) coordinates.Coordinate {
	t.Helper()
	coordinate, err := coordinates.New(latitude, longitude)
	if err != nil {
		t.Fatalf("construct coordinate: %v", err)
	}
	return coordinate
}

func TestResolverCheck(t *testing.T) {
	t.Parallel()

	resolver := geolink.NewResolver(geolink.ResolverConfig{})
	testCases := []struct {
		input           string
		expectedOutcome linkparser.Outcome
	}{
		{input: "https://www.google.com/maps/@40.7128,-74.0060,12z", expectedOutcome: linkparser.OutcomeResolved},
		{input: "https://maps.app.goo.gl/abc", expectedOutcome: linkparser.OutcomeExpansionNeeded},
		{input: "somewhere nice", expectedOutcome: linkparser.OutcomeUnresolved},
	}
	for _, testCase := range testCases {
		if attempt := resolver.Check(testCase.input); attempt.Outcome != testCase.expectedOutcome {
			t.Fatalf("input %q: expected %s, got %s", testCase.input, testCase.expectedOutcome, attempt.Outcome)
		}
	}
}

func TestResolverResolve(t *testing.T) {
	t.Parallel()

	shortLink := "https://maps.app.goo.gl/abc"
	stub := &expanderStub{results: map[string]coordinates.Coordinate{shortLink: mustCoordinate(t, 12.34, 56.78)}}
	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: stub})

	coordinate, err := resolver.Resolve(context.Background(), "  "+shortLink+"  ")
	if err != nil {
		t.Fatalf(clientTestUnexpectedErr, err)
	}
	if coordinate.String() != "12.340000,56.780000" {
		t.Fatalf("unexpected coordinate %s", coordinate.String())
	}

	coordinate, err = resolver.Resolve(context.Background(), "https://www.google.com/maps?q=-1.5,2.25")
	if err != nil {
		t.Fatalf(clientTestUnexpectedErr, err)
	}
	if coordinate.String() != "-1.500000,2.250000" {
		t.Fatalf("unexpected coordinate %s", coordinate.String())
	}

	_, err = resolver.Resolve(context.Background(), "https://example.com/not-a-map")
	assertFailureKind(t, err, geolink.FailureMalformedInput)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.received) != 1 || stub.received[0] != shortLink {
		t.Fatalf("expected only the short link to reach the expander, got %v", stub.received)
	}
}

func TestResolverResolveManualEntry(t *testing.T) {
	t.Parallel()

	stub := &expanderStub{}
	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: stub})

	coordinate, err := resolver.Resolve(context.Background(), " 12.5 , -3.25 ")
	if err != nil {
		t.Fatalf(clientTestUnexpectedErr, err)
	}
	if coordinate.String() != "12.500000,-3.250000" {
		t.Fatalf("unexpected coordinate %s", coordinate.String())
	}

	testCases := []struct {
		name           string
		input          string
		expectedReason string
		expectedCause  error
	}{
		{name: "out of range entry", input: "95.5 , 3.0", expectedReason: geolink.ReasonMalformedInput, expectedCause: coordinates.ErrLatitudeOutOfRange},
		{name: "place link", input: "https://www.google.com/maps/place/Colosseum", expectedReason: geolink.ReasonMapLinkWithoutCoordinates},
		{name: "free text", input: "somewhere nice", expectedReason: geolink.ReasonMalformedInput},
	}
	for _, testCase := range testCases {
		_, err := resolver.Resolve(context.Background(), testCase.input)
		var failure *geolink.Failure
		if !errors.As(err, &failure) {
			t.Fatalf("%s: expected *geolink.Failure, got %v", testCase.name, err)
		}
		if failure.Kind != geolink.FailureMalformedInput || failure.Reason != testCase.expectedReason {
			t.Fatalf("%s: unexpected failure %s: %q", testCase.name, failure.Kind, failure.Reason)
		}
		if testCase.expectedCause != nil && !errors.Is(err, testCase.expectedCause) {
			t.Fatalf("%s: expected cause %v, got %v", testCase.name, testCase.expectedCause, err)
		}
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.received) != 0 {
		t.Fatalf("expected manual entry never to reach the expander, got %v", stub.received)
	}
}

func TestResolverResolveWithoutExpander(t *testing.T) {
	t.Parallel()

	resolver := geolink.NewResolver(geolink.ResolverConfig{})
	_, err := resolver.Resolve(context.Background(), "https://goo.gl/maps/xyz")
	assertFailureKind(t, err, geolink.FailureUnresolvable)
}

func TestResolverPropagatesExpanderFailure(t *testing.T) {
	t.Parallel()

	transportFailure := &geolink.Failure{Kind: geolink.FailureTransport, Reason: geolink.ReasonTransport, Err: errors.New("connection refused")}
	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: &expanderStub{err: transportFailure}})

	_, err := resolver.Resolve(context.Background(), "https://maps.app.goo.gl/abc")
	assertFailureKind(t, err, geolink.FailureTransport)
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected the cause in the error text, got %q", err.Error())
	}
}

func TestResolveManyPreservesOrder(t *testing.T) {
	t.Parallel()

	inputs := make([]string, 0, 40)
	for index := 0; index < 40; index++ {
		switch index % 3 {
		case 0:
			inputs = append(inputs, fmt.Sprintf("https://www.google.com/maps/@%d.5,%d.25,10z", index, index))
		case 1:
			inputs = append(inputs, fmt.Sprintf("https://maps.app.goo.gl/link%d", index))
		default:
			inputs = append(inputs, fmt.Sprintf("not a link %d", index))
		}
	}

	results := make(map[string]coordinates.Coordinate)
	for index, input := range inputs {
		if index%3 == 1 {
			results[input] = mustCoordinate(t, float64(index)/10, float64(index)/10)
		}
	}
	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: &expanderStub{results: results}, Concurrency: 4})

	resolutions := resolver.ResolveMany(context.Background(), inputs)
	if len(resolutions) != len(inputs) {
		t.Fatalf("expected %d resolutions, got %d", len(inputs), len(resolutions))
	}
	for index, resolution := range resolutions {
		if resolution.Input != inputs[index] {
			t.Fatalf("resolution %d: expected input %q, got %q", index, inputs[index], resolution.Input)
		}
		switch index % 3 {
		case 0:
			expected := mustCoordinate(t, float64(index)+0.5, float64(index)+0.25)
			if resolution.Err != nil || resolution.Coordinate != expected {
				t.Fatalf("resolution %d: expected %s, got %s (%v)", index, expected, resolution.Coordinate, resolution.Err)
			}
		case 1:
			if resolution.Err != nil || resolution.Coordinate != results[inputs[index]] {
				t.Fatalf("resolution %d: unexpected %s (%v)", index, resolution.Coordinate, resolution.Err)
			}
		default:
			assertFailureKind(t, resolution.Err, geolink.FailureMalformedInput)
		}
	}
}

func TestResolveManyBoundsConcurrency(t *testing.T) {
	t.Parallel()

	inputs := make([]string, 24)
	for index := range inputs {
		inputs[index] = fmt.Sprintf("https://maps.app.goo.gl/bounded%d", index)
	}
	probe := &concurrencyProbe{}
	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: probe, Concurrency: 3})

	for _, resolution := range resolver.ResolveMany(context.Background(), inputs) {
		if resolution.Err != nil {
			t.Fatalf(clientTestUnexpectedErr, resolution.Err)
		}
	}
	if maximum := probe.maximum.Load(); maximum > 3 {
		t.Fatalf("expected at most 3 concurrent expansions, observed %d", maximum)
	}
}

func TestResolveManyCanceledContext(t *testing.T) {
	t.Parallel()

	canceledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	resolver := geolink.NewResolver(geolink.ResolverConfig{Expander: &expanderStub{}})
	resolutions := resolver.ResolveMany(canceledCtx, []string{"https://maps.app.goo.gl/a", "https://maps.app.goo.gl/b"})
	for _, resolution := range resolutions {
		assertFailureKind(t, resolution.Err, geolink.FailureTransport)
		if !errors.Is(resolution.Err, context.Canceled) {
			t.Fatalf("expected cancellation cause, got %v", resolution.Err)
		}
	}
}
