package expander

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
)

const (
	chromeBinaryEnvironmentVariable = "CHROME_BIN"
	chromeDocumentSelector          = "html"
	chromeBinaryPathMacOS           = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
	chromeBinaryPathLinux           = "/usr/bin/google-chrome"
	chromeBinaryNameLinux           = "google-chrome"
	chromeBinaryPathChromium        = "/usr/bin/chromium"
	chromeBinaryNameChromium        = "chromium"
)

var defaultChromeBinaryCandidates = []string{
	chromeBinaryPathMacOS,
	chromeBinaryPathLinux,
	chromeBinaryNameLinux,
	chromeBinaryPathChromium,
	chromeBinaryNameChromium,
}

// ChromeFetcherConfig configures a ChromePageFetcher.
type ChromeFetcherConfig struct {
	BinaryPath string
	UserAgent  string
}

// ChromePageFetcher renders pages in headless Chrome so that coordinates
// injected by page scripts are present in the returned DOM. A single browser
// process serves every fetch, each in its own tab, one tab at a time.
type ChromePageFetcher struct {
	allocatorContext context.Context
	cancelAllocator  context.CancelFunc
	browserContext   context.Context
	cancelBrowser    context.CancelFunc
	startOnce        sync.Once
	startErr         error
	tabSlot          chan struct{}
	closeOnce        sync.Once
}

// NewChromePageFetcher prepares a Chrome allocator. The browser is launched
// on the first FetchPage call and reused until Close.
func NewChromePageFetcher(configuration ChromeFetcherConfig) *ChromePageFetcher {
	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.UserAgent(BrowserUserAgent(configuration.UserAgent)),
	)
	if binaryPath := ResolveChromeBinaryPath(configuration.BinaryPath); binaryPath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(binaryPath))
	}

	allocatorContext, cancelAllocator := chromedp.NewExecAllocator(context.Background(), allocatorOptions...)
	browserContext, cancelBrowser := chromedp.NewContext(allocatorContext)
	return &ChromePageFetcher{
		allocatorContext: allocatorContext,
		cancelAllocator:  cancelAllocator,
		browserContext:   browserContext,
		cancelBrowser:    cancelBrowser,
		tabSlot:          make(chan struct{}, 1),
	}
}

// FetchPage navigates a new tab of the shared browser to pageURL and returns
// the rendered document.
func (fetcher *ChromePageFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	select {
	case fetcher.tabSlot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-fetcher.tabSlot }()

	if err := fetcher.startBrowser(); err != nil {
		return "", err
	}

	tabContext, cancelTab := chromedp.NewContext(fetcher.browserContext)
	defer cancelTab()
	stopCancelPropagation := context.AfterFunc(ctx, cancelTab)
	defer stopCancelPropagation()

	var htmlContent string
	renderErr := chromedp.Run(tabContext,
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML(chromeDocumentSelector, &htmlContent, chromedp.ByQuery),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if renderErr != nil {
		return "", fmt.Errorf("%s: %w", errMessageChromeRenderFailure, renderErr)
	}
	if strings.TrimSpace(htmlContent) == "" {
		return "", errEmptyPage
	}
	return htmlContent, nil
}

// startBrowser launches Chrome once. Running the browser context with no
// actions starts the process without opening a page.
func (fetcher *ChromePageFetcher) startBrowser() error {
	fetcher.startOnce.Do(func() {
		if ctxErr := fetcher.browserContext.Err(); ctxErr != nil {
			fetcher.startErr = fmt.Errorf("%s: %w", errMessageChromeClosed, ctxErr)
			return
		}
		if runErr := chromedp.Run(fetcher.browserContext); runErr != nil {
			fetcher.startErr = fmt.Errorf("%s: %w", errMessageChromeStartFailure, runErr)
		}
	})
	if fetcher.startErr != nil {
		return fetcher.startErr
	}
	if ctxErr := fetcher.browserContext.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", errMessageChromeClosed, ctxErr)
	}
	return nil
}

// Close terminates the browser and its allocator. Later fetches fail.
func (fetcher *ChromePageFetcher) Close() {
	fetcher.closeOnce.Do(func() {
		fetcher.cancelBrowser()
		fetcher.cancelAllocator()
	})
}

// ResolveChromeBinaryPath picks the configured path, then CHROME_BIN, then the
// first well-known binary found on PATH. An empty result lets chromedp search.
func ResolveChromeBinaryPath(configuredPath string) string {
	if trimmed := strings.TrimSpace(configuredPath); trimmed != "" {
		return trimmed
	}
	if environmentValue := strings.TrimSpace(os.Getenv(chromeBinaryEnvironmentVariable)); environmentValue != "" {
		return environmentValue
	}
	for _, candidate := range defaultChromeBinaryCandidates {
		if resolvedPath, lookErr := exec.LookPath(candidate); lookErr == nil {
			return resolvedPath
		}
	}
	return ""
}
