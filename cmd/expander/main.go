package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/coalsense/geolink/internal/expander"
	"github.com/coalsense/geolink/internal/metrics"
	"github.com/coalsense/geolink/internal/server"
)

const (
	commandUse                     = "expander"
	commandShortDescription        = "Serve the single-hop short link expansion service over HTTP"
	envPrefix                      = "GEOLINK_EXPANDER"
	flagHostName                   = "host"
	flagHostDescription            = "Host interface for the HTTP server"
	flagPortName                   = "port"
	flagPortDescription            = "Port for the HTTP server"
	flagAllowedOriginName          = "allowed-origin"
	flagAllowedOriginDescription   = "Origin allowed to call the service from a browser (* allows any)"
	flagRedirectTimeoutName        = "redirect-timeout"
	flagRedirectTimeoutDescription = "Timeout for the single redirect capture request"
	flagHTMLTimeoutName            = "html-timeout"
	flagHTMLTimeoutDescription     = "Timeout for fetching the redirect target page"
	flagHTMLFetcherName            = "html-fetcher"
	flagHTMLFetcherDescription     = "Redirect target page fetcher: http or chrome"
	flagChromePathName             = "chrome-path"
	flagChromePathDescription      = "Path to the Chrome/Chromium binary (or set CHROME_BIN)"
	flagUserAgentName              = "user-agent"
	flagUserAgentDescription       = "User agent for outbound requests (default rotates built-in Chrome agents)"
	defaultHost                    = "127.0.0.1"
	defaultPort                    = 3001
	defaultAllowedOrigin           = "*"
	defaultRedirectTimeout         = 10 * time.Second
	defaultHTMLTimeout             = 15 * time.Second
	htmlFetcherHTTP                = "http"
	htmlFetcherChrome              = "chrome"
	shutdownTimeout                = 5 * time.Second
	readHeaderTimeout              = 10 * time.Second
	errMessageLoggerCreate         = "create logger"
	errMessageRouterCreate         = "create router"
	errMessageListenAndServe       = "listen and serve"
	errMessageUnknownFetcher       = "unknown html fetcher"
	errMessageShutdown             = "shutdown HTTP server"
	logMessageStartingServer       = "starting HTTP server"
	logMessageServerStopped        = "server stopped"
	logMessageListenError          = "server listen failure"
	logMessageShuttingDown         = "shutting down HTTP server"
	logMessageFetcherSelected      = "redirect target page fetcher selected"
	logFieldAddress                = "address"
	logFieldFetcher                = "fetcher"
	logFieldChromePath             = "chrome_path"
)

var errUnknownFetcher = errors.New(errMessageUnknownFetcher)

func main() {
	cobra.CheckErr(newExpanderCommand().Execute())
}

func newExpanderCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runExpanderCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	command.Flags().String(flagAllowedOriginName, defaultAllowedOrigin, flagAllowedOriginDescription)
	command.Flags().Duration(flagRedirectTimeoutName, defaultRedirectTimeout, flagRedirectTimeoutDescription)
	command.Flags().Duration(flagHTMLTimeoutName, defaultHTMLTimeout, flagHTMLTimeoutDescription)
	command.Flags().String(flagHTMLFetcherName, htmlFetcherHTTP, flagHTMLFetcherDescription)
	command.Flags().String(flagChromePathName, "", flagChromePathDescription)
	command.Flags().String(flagUserAgentName, "", flagUserAgentDescription)

	for _, flagName := range []string{
		flagHostName,
		flagPortName,
		flagAllowedOriginName,
		flagRedirectTimeoutName,
		flagHTMLTimeoutName,
		flagHTMLFetcherName,
		flagChromePathName,
		flagUserAgentName,
	} {
		bindFlagToViper(command, flagName)
	}

	cobra.OnInitialize(configureEnvironment)

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(viper.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

func configureEnvironment() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func runExpanderCommand(command *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	userAgent := viper.GetString(flagUserAgentName)
	pageFetcher, closeFetcher, err := newPageFetcher(viper.GetString(flagHTMLFetcherName), viper.GetString(flagChromePathName), userAgent)
	if err != nil {
		return err
	}
	defer closeFetcher()
	logger.Info(logMessageFetcherSelected,
		zap.String(logFieldFetcher, viper.GetString(flagHTMLFetcherName)),
		zap.String(logFieldChromePath, viper.GetString(flagChromePathName)),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serviceMetrics := metrics.NewMetrics(registry)

	expansionService := expander.NewService(expander.Config{
		PageFetcher:     pageFetcher,
		RedirectTimeout: viper.GetDuration(flagRedirectTimeoutName),
		HTMLTimeout:     viper.GetDuration(flagHTMLTimeoutName),
		UserAgent:       userAgent,
		Logger:          logger,
		Metrics:         serviceMetrics,
	})

	router, err := server.NewRouter(server.RouterConfig{
		Expander:      expansionService,
		Logger:        logger,
		Metrics:       serviceMetrics,
		Gatherer:      registry,
		AllowedOrigin: viper.GetString(flagAllowedOriginName),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageRouterCreate, err)
	}

	host := viper.GetString(flagHostName)
	port := viper.GetInt(flagPortName)
	address := fmt.Sprintf("%s:%d", host, port)
	logger.Info(logMessageStartingServer, zap.String(logFieldAddress, address))

	signalContext, stopSignals := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	httpServer := &http.Server{Addr: address, Handler: router, ReadHeaderTimeout: readHeaderTimeout}
	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(logMessageListenError, zap.Error(err))
			return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
		}
	case <-signalContext.Done():
		logger.Info(logMessageShuttingDown)
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownContext); err != nil {
			return fmt.Errorf("%s: %w", errMessageShutdown, err)
		}
	}

	logger.Info(logMessageServerStopped)
	return nil
}

func newPageFetcher(fetcherName string, chromePath string, userAgent string) (expander.PageFetcher, func(), error) {
	switch strings.ToLower(strings.TrimSpace(fetcherName)) {
	case "", htmlFetcherHTTP:
		return expander.NewHTTPPageFetcher(expander.HTTPPageFetcherConfig{UserAgent: userAgent}), func() {}, nil
	case htmlFetcherChrome:
		chromeFetcher := expander.NewChromePageFetcher(expander.ChromeFetcherConfig{BinaryPath: chromePath, UserAgent: userAgent})
		return chromeFetcher, chromeFetcher.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownFetcher, fetcherName)
	}
}
