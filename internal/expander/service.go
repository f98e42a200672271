package expander

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/linkparser"
	"github.com/coalsense/geolink/internal/metrics"
)

const (
	locationHeaderName           = "Location"
	userAgentHeaderName          = "User-Agent"
	schemeHTTP                   = "http"
	schemeHTTPS                  = "https"
	discardBodyBytes             = 1024
	defaultDialTimeout           = 5 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultRedirectTimeout       = 10 * time.Second
	defaultHTMLTimeout           = 15 * time.Second

	// SourceRedirectURL marks coordinates read from the redirect target URL.
	SourceRedirectURL = "redirect_url"
	// SourceHTMLCenterJSON marks coordinates scraped from an embedded "center" object.
	SourceHTMLCenterJSON = "html_center_json"
	// SourceHTMLStaticMap marks coordinates scraped from a static map image URL.
	SourceHTMLStaticMap = "html_static_map"

	errMessageMissingURL      = "no URL provided"
	errMessageNoRedirect      = "no redirect found"
	errMessageExpansionFailed = "failed to expand URL"
	errMessageInvalidURL      = "url must be an absolute http or https address"
	errMessageParseLocation   = "parse redirect location"

	logMessageRedirectCaptured  = "redirect captured"
	logMessageRedirectMissing   = "target returned no redirect"
	logMessageRedirectFailed    = "redirect request failed"
	logMessageHTMLFetchFailed   = "redirect target page fetch failed"
	logMessageHTMLNoCoordinates = "redirect target page exposed no coordinates"
	logMessageHTMLCoordinates   = "coordinates scraped from redirect target page"
	logFieldURL                 = "url"
	logFieldLocation            = "location"
	logFieldSource              = "source"
	logFieldStatus              = "status"
)

var (
	// ErrMissingURL indicates an empty expansion target.
	ErrMissingURL = errors.New(errMessageMissingURL)
	// ErrNoRedirect indicates the target response carried no Location header.
	ErrNoRedirect = errors.New(errMessageNoRedirect)
	// ErrExpansionFailed wraps unexpected failures reaching the target.
	ErrExpansionFailed = errors.New(errMessageExpansionFailed)

	errInvalidURL = errors.New(errMessageInvalidURL)
)

// Expansion is the result of a single-hop expansion. Coordinate is nil when
// neither the redirect target nor its page exposed one.
type Expansion struct {
	ExpandedURL string
	Coordinate  *coordinates.Coordinate
	Source      string
}

// Config customizes a Service instance.
type Config struct {
	Client          *http.Client
	PageFetcher     PageFetcher
	RedirectTimeout time.Duration
	HTMLTimeout     time.Duration
	UserAgent       string
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
}

// Service expands shortened map links by capturing exactly one redirect hop.
// It keeps no state between calls.
type Service struct {
	client          *http.Client
	pageFetcher     PageFetcher
	redirectTimeout time.Duration
	htmlTimeout     time.Duration
	userAgent       string
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

// NewService constructs a Service with redirect following disabled on its client.
func NewService(configuration Config) *Service {
	var httpClient *http.Client
	if configuration.Client == nil {
		httpClient = &http.Client{Transport: defaultTransport()}
	} else {
		clonedClient := *configuration.Client
		if clonedClient.Transport == nil {
			clonedClient.Transport = defaultTransport()
		}
		httpClient = &clonedClient
	}
	httpClient.CheckRedirect = preventRedirectFollowing

	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	redirectTimeout := configuration.RedirectTimeout
	if redirectTimeout <= 0 {
		redirectTimeout = defaultRedirectTimeout
	}
	htmlTimeout := configuration.HTMLTimeout
	if htmlTimeout <= 0 {
		htmlTimeout = defaultHTMLTimeout
	}

	userAgent := strings.TrimSpace(configuration.UserAgent)
	pageFetcher := configuration.PageFetcher
	if pageFetcher == nil {
		pageFetcher = NewHTTPPageFetcher(HTTPPageFetcherConfig{UserAgent: userAgent})
	}

	return &Service{
		client:          httpClient,
		pageFetcher:     pageFetcher,
		redirectTimeout: redirectTimeout,
		htmlTimeout:     htmlTimeout,
		userAgent:       userAgent,
		logger:          logger,
		metrics:         configuration.Metrics,
	}
}

// Expand captures the first redirect of targetURL and extracts coordinates from
// the redirect target URL or, failing that, from the target page HTML.
// A page fetch failure never masks the already captured redirect target.
func (service *Service) Expand(ctx context.Context, targetURL string) (Expansion, error) {
	trimmedURL := strings.TrimSpace(targetURL)
	if trimmedURL == "" {
		service.metrics.RecordOutcome(metrics.OutcomeMissingURL)
		return Expansion{}, ErrMissingURL
	}
	parsedURL, err := parseTargetURL(trimmedURL)
	if err != nil {
		service.metrics.RecordOutcome(metrics.OutcomeFailed)
		return Expansion{}, fmt.Errorf("%w: %w", ErrExpansionFailed, err)
	}

	location, err := service.captureRedirect(ctx, parsedURL)
	if err != nil {
		if errors.Is(err, ErrNoRedirect) {
			service.metrics.RecordOutcome(metrics.OutcomeNoRedirect)
			return Expansion{}, err
		}
		service.metrics.RecordOutcome(metrics.OutcomeFailed)
		service.logger.Warn(logMessageRedirectFailed, zap.String(logFieldURL, trimmedURL), zap.Error(err))
		return Expansion{}, fmt.Errorf("%w: %w", ErrExpansionFailed, err)
	}
	service.logger.Debug(logMessageRedirectCaptured, zap.String(logFieldURL, trimmedURL), zap.String(logFieldLocation, location))

	expansion := Expansion{ExpandedURL: location}
	if coordinate, ok := linkparser.ExtractRedirectTarget(location); ok {
		expansion.Coordinate = &coordinate
		expansion.Source = SourceRedirectURL
		service.metrics.RecordOutcome(metrics.OutcomeRedirectCoordinates)
		return expansion, nil
	}

	coordinate, source, found := service.scrapeTargetPage(ctx, location)
	if !found {
		service.metrics.RecordOutcome(metrics.OutcomeExpandedOnly)
		return expansion, nil
	}
	expansion.Coordinate = &coordinate
	expansion.Source = source
	service.metrics.RecordOutcome(metrics.OutcomeHTMLCoordinates)
	return expansion, nil
}

func (service *Service) captureRedirect(ctx context.Context, targetURL *url.URL) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, service.redirectTimeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodGet, targetURL.String(), nil)
	if err != nil {
		return "", err
	}
	httpRequest.Header.Set(userAgentHeaderName, service.requestUserAgent())

	started := time.Now()
	httpResponse, err := service.client.Do(httpRequest)
	service.metrics.ObserveUpstream(metrics.StageRedirect, time.Since(started).Seconds())
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResponse.Body, discardBodyBytes))
		_ = httpResponse.Body.Close()
	}()

	location := strings.TrimSpace(httpResponse.Header.Get(locationHeaderName))
	if location == "" {
		service.logger.Debug(logMessageRedirectMissing, zap.String(logFieldURL, targetURL.String()), zap.Int(logFieldStatus, httpResponse.StatusCode))
		return "", ErrNoRedirect
	}
	locationURL, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageParseLocation, err)
	}
	return targetURL.ResolveReference(locationURL).String(), nil
}

func (service *Service) scrapeTargetPage(ctx context.Context, location string) (coordinates.Coordinate, string, bool) {
	pageCtx, cancel := context.WithTimeout(ctx, service.htmlTimeout)
	defer cancel()

	started := time.Now()
	htmlContent, err := service.pageFetcher.FetchPage(pageCtx, location)
	service.metrics.ObserveUpstream(metrics.StageHTML, time.Since(started).Seconds())
	if err != nil {
		service.metrics.RecordHTMLFetchError()
		service.logger.Info(logMessageHTMLFetchFailed, zap.String(logFieldLocation, location), zap.Error(err))
		return coordinates.Coordinate{}, "", false
	}

	coordinate, source, found := ScrapeCoordinates(htmlContent)
	if !found {
		service.logger.Debug(logMessageHTMLNoCoordinates, zap.String(logFieldLocation, location))
		return coordinates.Coordinate{}, "", false
	}
	service.logger.Debug(logMessageHTMLCoordinates, zap.String(logFieldLocation, location), zap.String(logFieldSource, source))
	return coordinate, source, true
}

func (service *Service) requestUserAgent() string {
	return BrowserUserAgent(service.userAgent)
}

func parseTargetURL(rawURL string) (*url.URL, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(parsedURL.Scheme)
	if (scheme != schemeHTTP && scheme != schemeHTTPS) || parsedURL.Host == "" {
		return nil, errInvalidURL
	}
	return parsedURL, nil
}

func defaultTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

func preventRedirectFollowing(_ *http.Request, _ []*http.Request) error {
	return http.ErrUseLastResponse
}
