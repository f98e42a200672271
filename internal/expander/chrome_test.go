package expander_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coalsense/geolink/internal/expander"
)

const (
	chromeTestConfiguredPath = "/opt/custom/chrome"
	chromeTestEnvironmentKey = "CHROME_BIN"
	chromeTestEnvironmentBin = "/opt/env/chromium"
	chromeTestScriptedHTML   = `<html><body><div id="state"></div><script>document.getElementById("state").textContent='{"center":{"lat":52.5162746,"lng":13.3777041}}';</script></body></html>`
)

func TestChromePageFetcherFailsAfterClose(t *testing.T) {
	t.Parallel()

	fetcher := expander.NewChromePageFetcher(expander.ChromeFetcherConfig{BinaryPath: chromeTestConfiguredPath})
	fetcher.Close()
	fetcher.Close()

	_, err := fetcher.FetchPage(context.Background(), "https://example.com/")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a canceled browser error, got %v", err)
	}
	if _, err = fetcher.FetchPage(context.Background(), "https://example.com/"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the closed error to persist, got %v", err)
	}
}

func TestResolveChromeBinaryPath(t *testing.T) {
	t.Setenv(chromeTestEnvironmentKey, chromeTestEnvironmentBin)

	if resolved := expander.ResolveChromeBinaryPath(" " + chromeTestConfiguredPath + " "); resolved != chromeTestConfiguredPath {
		t.Fatalf("expected configured path, got %q", resolved)
	}
	if resolved := expander.ResolveChromeBinaryPath(""); resolved != chromeTestEnvironmentBin {
		t.Fatalf("expected %s from the environment, got %q", chromeTestEnvironmentBin, resolved)
	}
}

func TestChromePageFetcherReusesBrowser(t *testing.T) {
	if expander.ResolveChromeBinaryPath("") == "" {
		t.Skip("chrome is not installed")
	}

	pageServer := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set("Content-Type", "text/html")
		_, _ = responseWriter.Write([]byte(chromeTestScriptedHTML))
	}))
	defer pageServer.Close()

	fetcher := expander.NewChromePageFetcher(expander.ChromeFetcherConfig{})
	defer fetcher.Close()

	for attempt := 0; attempt < 2; attempt++ {
		fetchCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		html, err := fetcher.FetchPage(fetchCtx, pageServer.URL)
		cancel()
		if err != nil {
			t.Fatalf("fetch %d: %v", attempt, err)
		}
		coordinate, source, found := expander.ScrapeCoordinates(html)
		if !found || source != expander.SourceHTMLCenterJSON {
			t.Fatalf("fetch %d: expected scripted coordinates, got %v from %q", attempt, found, source)
		}
		if coordinate.String() != "52.516275,13.377704" {
			t.Fatalf("fetch %d: unexpected coordinate %s", attempt, coordinate)
		}
	}
}
