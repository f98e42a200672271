package geolink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coalsense/geolink/internal/expander"
)

const (
	defaultMaxRedirects           = 10
	followerDiscardBodyBytes      = 4096
	headerUserAgent               = "User-Agent"
	errMessageTooManyRedirects    = "stopped after too many redirects"
	errMessageCreateFollowRequest = "create direct follow request"
	errMessageExecuteFollow       = "follow redirects"
)

var errTooManyRedirects = errors.New(errMessageTooManyRedirects)

// RedirectFollower returns the final URL reached from a link.
type RedirectFollower interface {
	Follow(ctx context.Context, link string) (string, error)
}

// DirectFollowerConfig configures a DirectFollower.
type DirectFollowerConfig struct {
	Client       *http.Client
	UserAgent    string
	MaxRedirects int
	Timeout      time.Duration
}

// DirectFollower resolves a short link without the companion service by
// following its redirect chain and reporting the final request URL.
type DirectFollower struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewDirectFollower constructs a DirectFollower.
func NewDirectFollower(configuration DirectFollowerConfig) *DirectFollower {
	maxRedirects := configuration.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}
	var httpClient http.Client
	if configuration.Client != nil {
		httpClient = *configuration.Client
	}
	httpClient.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		return nil
	}
	timeout := configuration.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &DirectFollower{
		client:    &httpClient,
		userAgent: strings.TrimSpace(configuration.UserAgent),
		timeout:   timeout,
	}
}

// Follow performs a GET on link and returns the URL of the last request in the chain.
func (follower *DirectFollower) Follow(ctx context.Context, link string) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, follower.timeout)
	defer cancel()

	httpRequest, err := http.NewRequestWithContext(requestCtx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageCreateFollowRequest, err)
	}
	httpRequest.Header.Set(headerUserAgent, expander.BrowserUserAgent(follower.userAgent))

	httpResponse, err := follower.client.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errMessageExecuteFollow, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResponse.Body, followerDiscardBodyBytes))
		_ = httpResponse.Body.Close()
	}()
	return httpResponse.Request.URL.String(), nil
}
