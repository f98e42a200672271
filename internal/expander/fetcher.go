package expander

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	maxPageHTMLBytes              = 2 * 1024 * 1024
	acceptHeaderName              = "Accept"
	acceptHeaderHTML              = "text/html,application/xhtml+xml"
	errMessageUnexpectedStatus    = "redirect target page returned unexpected status code"
	errMessageEmptyPage           = "redirect target page was empty"
	errMessageCreatePageRequest   = "create page request"
	errMessageReadPageBody        = "read page body"
	errMessageExecutePageRequest  = "execute page request"
	errMessageChromeRenderFailure = "render page with chrome"
	errMessageChromeStartFailure  = "start chrome"
	errMessageChromeClosed        = "chrome page fetcher closed"
)

var errEmptyPage = errors.New(errMessageEmptyPage)

// PageFetcher retrieves the HTML of a redirect target page.
type PageFetcher interface {
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// HTTPPageFetcherConfig configures an HTTPPageFetcher.
type HTTPPageFetcherConfig struct {
	Client    *http.Client
	UserAgent string
	MaxBytes  int64
}

// HTTPPageFetcher downloads pages with a plain GET, following redirects.
type HTTPPageFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPPageFetcher constructs an HTTPPageFetcher with default transport settings.
func NewHTTPPageFetcher(configuration HTTPPageFetcherConfig) *HTTPPageFetcher {
	httpClient := configuration.Client
	if httpClient == nil {
		httpClient = &http.Client{Transport: defaultTransport()}
	}
	maxBytes := configuration.MaxBytes
	if maxBytes <= 0 {
		maxBytes = maxPageHTMLBytes
	}
	return &HTTPPageFetcher{
		client:    httpClient,
		userAgent: strings.TrimSpace(configuration.UserAgent),
		maxBytes:  maxBytes,
	}
}

// FetchPage returns at most the configured number of bytes of the page body.
func (fetcher *HTTPPageFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageCreatePageRequest, err)
	}
	httpRequest.Header.Set(userAgentHeaderName, BrowserUserAgent(fetcher.userAgent))
	httpRequest.Header.Set(acceptHeaderName, acceptHeaderHTML)

	httpResponse, err := fetcher.client.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageExecutePageRequest, err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return "", fmt.Errorf("%s: %d", errMessageUnexpectedStatus, httpResponse.StatusCode)
	}
	htmlBytes, err := io.ReadAll(io.LimitReader(httpResponse.Body, fetcher.maxBytes))
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageReadPageBody, err)
	}
	if strings.TrimSpace(string(htmlBytes)) == "" {
		return "", errEmptyPage
	}
	return string(htmlBytes), nil
}
