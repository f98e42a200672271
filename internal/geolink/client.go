package geolink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/linkparser"
)

const (
	// DefaultExpanderBaseURL is where the companion expansion service listens by default.
	DefaultExpanderBaseURL = "http://localhost:3001"

	defaultRequestTimeout   = 15 * time.Second
	expandPath              = "/expand"
	expandQueryKey          = "url"
	maxResponseBytes        = 64 * 1024
	acceptHeaderName        = "Accept"
	acceptHeaderJSON        = "application/json"
	companionNoRedirectText = "No redirect found"
	companionNoURLText      = "No URL provided"

	errMessageInvalidBaseURL      = "expander base url must be an absolute http or https address"
	errMessageCompanionStatus     = "expansion service returned unexpected status"
	errMessageCompanionNoRedirect = "expansion service found no redirect"
	errMessageCompanionNoURL      = "expansion service rejected an empty url"
	errMessageDecodeResponse      = "decode expansion response"
	errMessageCreateRequest       = "create expansion request"
	errMessageExecuteRequest      = "execute expansion request"
	errMessageEmptyOutcome        = "expansion produced neither a url nor coordinates"
	errMessageFallbackFailed      = "direct redirect follow failed"

	logMessageCompanionUnavailable = "expansion service unavailable; following redirects directly"
	logMessageExpansionResolved    = "short link resolved"
	logFieldCandidate              = "candidate"
	logFieldExpanded               = "expanded"
	logFieldVia                    = "via"
	viaCompanion                   = "companion"
	viaFallback                    = "direct_follow"
)

var (
	errInvalidBaseURL      = errors.New(errMessageInvalidBaseURL)
	errCompanionNoRedirect = errors.New(errMessageCompanionNoRedirect)
	errCompanionNoURL      = errors.New(errMessageCompanionNoURL)
	errEmptyOutcome        = errors.New(errMessageEmptyOutcome)

	// errCompanionUnavailable marks failures that warrant the direct-follow fallback.
	errCompanionUnavailable = errors.New(errMessageExecuteRequest)
)

// ExpansionOutcome is the result of one expansion hop. At most one field is
// meaningfully populated; both empty signals total failure.
type ExpansionOutcome struct {
	ExpandedURL      string
	DirectCoordinate *coordinates.Coordinate
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ExpanderBaseURL string
	HTTPClient      *http.Client
	Timeout         time.Duration
	Follower        RedirectFollower
	DisableFallback bool
	Logger          *zap.Logger
}

// Client asks the companion expansion service to expand shortened links and
// re-resolves whatever it returns.
type Client struct {
	expandEndpoint *url.URL
	httpClient     *http.Client
	timeout        time.Duration
	follower       RedirectFollower
	logger         *zap.Logger
}

// NewClient validates the expander base URL and constructs a Client.
func NewClient(configuration ClientConfig) (*Client, error) {
	baseURL := strings.TrimSpace(configuration.ExpanderBaseURL)
	if baseURL == "" {
		baseURL = DefaultExpanderBaseURL
	}
	parsedBaseURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidBaseURL, err)
	}
	if (parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https") || parsedBaseURL.Host == "" {
		return nil, errInvalidBaseURL
	}
	parsedBaseURL.Path = strings.TrimSuffix(parsedBaseURL.Path, "/") + expandPath

	httpClient := configuration.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var follower RedirectFollower
	if !configuration.DisableFallback {
		follower = configuration.Follower
		if follower == nil {
			follower = NewDirectFollower(DirectFollowerConfig{Timeout: timeout})
		}
	}

	return &Client{
		expandEndpoint: parsedBaseURL,
		httpClient:     httpClient,
		timeout:        timeout,
		follower:       follower,
		logger:         logger,
	}, nil
}

// ExpandAndResolve expands candidateURL and returns the coordinate it points
// at. Every expected failure is returned as a *Failure.
func (client *Client) ExpandAndResolve(ctx context.Context, candidateURL string) (coordinates.Coordinate, error) {
	trimmedCandidate := strings.TrimSpace(candidateURL)
	if trimmedCandidate == "" {
		return coordinates.Coordinate{}, newFailure(FailureMalformedInput, ReasonMalformedInput, nil)
	}

	outcome, err := client.Expand(ctx, trimmedCandidate)
	switch {
	case err == nil:
		return client.resolveOutcome(trimmedCandidate, outcome, viaCompanion)
	case errors.Is(err, errCompanionNoRedirect):
		return coordinates.Coordinate{}, newFailure(FailureUnresolvable, ReasonNoRedirect, err)
	case errors.Is(err, errCompanionNoURL):
		return coordinates.Coordinate{}, newFailure(FailureMalformedInput, ReasonMalformedInput, err)
	case ctx.Err() != nil:
		return coordinates.Coordinate{}, newFailure(FailureTransport, ReasonTransport, ctx.Err())
	case client.follower == nil:
		return coordinates.Coordinate{}, newFailure(FailureTransport, ReasonTransport, err)
	}

	client.logger.Warn(logMessageCompanionUnavailable, zap.String(logFieldCandidate, trimmedCandidate), zap.Error(err))
	finalURL, followErr := client.follower.Follow(ctx, trimmedCandidate)
	if followErr != nil {
		return coordinates.Coordinate{}, newFailure(FailureTransport, ReasonTransport,
			fmt.Errorf("%w; %s: %w", err, errMessageFallbackFailed, followErr))
	}
	return client.resolveOutcome(trimmedCandidate, ExpansionOutcome{ExpandedURL: finalURL}, viaFallback)
}

// Expand performs the companion request for candidateURL without re-resolving
// the result.
func (client *Client) Expand(ctx context.Context, candidateURL string) (ExpansionOutcome, error) {
	requestCtx, cancel := context.WithTimeout(ctx, client.timeout)
	defer cancel()

	endpoint := *client.expandEndpoint
	endpoint.RawQuery = url.Values{expandQueryKey: []string{candidateURL}}.Encode()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return ExpansionOutcome{}, fmt.Errorf("%s: %w", errMessageCreateRequest, err)
	}
	httpRequest.Header.Set(acceptHeaderName, acceptHeaderJSON)

	httpResponse, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return ExpansionOutcome{}, fmt.Errorf("%w: %w", errCompanionUnavailable, err)
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return ExpansionOutcome{}, fmt.Errorf("%w: %w", errCompanionUnavailable, err)
	}
	var payload expansionResponse
	decodeErr := json.NewDecoder(bytes.NewReader(responseBody)).Decode(&payload)

	if httpResponse.StatusCode == http.StatusBadRequest && decodeErr == nil {
		switch payload.Error {
		case companionNoRedirectText:
			return ExpansionOutcome{}, errCompanionNoRedirect
		case companionNoURLText:
			return ExpansionOutcome{}, errCompanionNoURL
		}
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return ExpansionOutcome{}, fmt.Errorf("%w: %s %d", errCompanionUnavailable, errMessageCompanionStatus, httpResponse.StatusCode)
	}
	if decodeErr != nil {
		return ExpansionOutcome{}, fmt.Errorf("%w: %s: %w", errCompanionUnavailable, errMessageDecodeResponse, decodeErr)
	}
	return payload.outcome(), nil
}

func (client *Client) resolveOutcome(candidateURL string, outcome ExpansionOutcome, via string) (coordinates.Coordinate, error) {
	if outcome.DirectCoordinate != nil {
		client.logResolved(candidateURL, outcome.ExpandedURL, via)
		return *outcome.DirectCoordinate, nil
	}
	if outcome.ExpandedURL == "" {
		return coordinates.Coordinate{}, newFailure(FailureUnresolvable, ReasonNoRedirect, errEmptyOutcome)
	}
	attempt := linkparser.Parse(outcome.ExpandedURL)
	if attempt.Resolved() {
		client.logResolved(candidateURL, outcome.ExpandedURL, via)
		return attempt.Coordinate, nil
	}
	return coordinates.Coordinate{}, newFailure(FailureNoCoordinates, ReasonNoCoordinates, nil)
}

func (client *Client) logResolved(candidateURL string, expandedURL string, via string) {
	client.logger.Debug(logMessageExpansionResolved,
		zap.String(logFieldCandidate, candidateURL),
		zap.String(logFieldExpanded, expandedURL),
		zap.String(logFieldVia, via),
	)
}

type expansionResponse struct {
	Expanded  string      `json:"expanded"`
	Latitude  decimalText `json:"lat"`
	Longitude decimalText `json:"lng"`
	Error     string      `json:"error"`
}

// outcome drops coordinates that are missing or out of range so the expanded
// URL gets a chance to resolve instead.
func (response expansionResponse) outcome() ExpansionOutcome {
	outcome := ExpansionOutcome{ExpandedURL: strings.TrimSpace(response.Expanded)}
	if response.Latitude == "" || response.Longitude == "" {
		return outcome
	}
	coordinate, err := coordinates.ParseDecimal(string(response.Latitude), string(response.Longitude))
	if err != nil {
		return outcome
	}
	outcome.DirectCoordinate = &coordinate
	return outcome
}

// decimalText accepts a decimal sent either as a JSON string or a JSON number.
type decimalText string

func (text *decimalText) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*text = ""
		return nil
	}
	var stringValue string
	if err := json.Unmarshal(trimmed, &stringValue); err == nil {
		*text = decimalText(strings.TrimSpace(stringValue))
		return nil
	}
	var numberValue json.Number
	if err := json.Unmarshal(trimmed, &numberValue); err != nil {
		return err
	}
	*text = decimalText(numberValue.String())
	return nil
}
