package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coalsense/geolink/internal/expander"
	"github.com/coalsense/geolink/internal/metrics"
)

const (
	expandRoutePath  = "/expand"
	healthRoutePath  = "/healthz"
	metricsRoutePath = "/metrics"
	urlQueryKey      = "url"

	// Response keys shared with the expansion client.
	ResponseKeyExpanded  = "expanded"
	ResponseKeyLatitude  = "lat"
	ResponseKeyLongitude = "lng"
	ResponseKeyError     = "error"

	// ErrorMessageMissingURL is returned with 400 when the url parameter is absent.
	ErrorMessageMissingURL = "No URL provided"
	// ErrorMessageNoRedirect is returned with 400 when the target sent no Location header.
	ErrorMessageNoRedirect = "No redirect found"
	// ErrorMessageExpansionFailed is returned with 500 when the target could not be reached.
	ErrorMessageExpansionFailed = "Failed to expand URL"
	// ErrorMessageNoCoordinates accompanies a 200 carrying only the expanded URL.
	ErrorMessageNoCoordinates = "No coordinates found in URL or HTML"

	healthStatusKey = "status"
	healthStatusOK  = "ok"

	defaultAllowedOrigin        = "*"
	allowedHeaderContentType    = "Content-Type"
	corsPreflightMaxAge         = 12 * time.Hour
	ginModeRelease              = "release"
	errMessageInvalidOrigin     = "invalid allowed origin"
	logMessageRequestServed     = "request served"
	logMessageExpansionFailed   = "expansion failed"
	logMessageExpansionNoTarget = "expansion target returned no redirect"
	logFieldMethod              = "method"
	logFieldPath                = "path"
	logFieldStatus              = "status"
	logFieldLatency             = "latency"
	logFieldURL                 = "url"
)

// LinkExpander expands a shortened link by a single redirect hop.
type LinkExpander interface {
	Expand(ctx context.Context, targetURL string) (expander.Expansion, error)
}

// RouterConfig configures the HTTP routing for expansion requests.
type RouterConfig struct {
	Expander      LinkExpander
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	AllowedOrigin string
}

// NewRouter constructs a Gin engine configured with the expansion, health and metrics handlers.
func NewRouter(configuration RouterConfig) (*gin.Engine, error) {
	linkExpander := configuration.Expander
	if linkExpander == nil {
		linkExpander = expander.NewService(expander.Config{
			Logger:  configuration.Logger,
			Metrics: configuration.Metrics,
		})
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowedOrigin := configuration.AllowedOrigin
	if allowedOrigin == "" {
		allowedOrigin = defaultAllowedOrigin
	}

	gin.SetMode(ginModeRelease)
	engine := gin.New()
	corsHandler, err := corsMiddleware(allowedOrigin)
	if err != nil {
		return nil, err
	}
	engine.Use(gin.Recovery(), requestLogger(logger), corsHandler)

	handler := expansionHandler{
		expander: linkExpander,
		logger:   logger,
		metrics:  configuration.Metrics,
	}

	engine.GET(expandRoutePath, handler.serveExpansion)
	engine.GET(healthRoutePath, handler.healthStatus)
	if configuration.Gatherer != nil {
		engine.GET(metricsRoutePath, gin.WrapH(promhttp.HandlerFor(configuration.Gatherer, promhttp.HandlerOpts{})))
	}

	return engine, nil
}

type expansionHandler struct {
	expander LinkExpander
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func (handler expansionHandler) serveExpansion(ginContext *gin.Context) {
	if handler.metrics != nil {
		handler.metrics.InFlightRequests.Inc()
		defer handler.metrics.InFlightRequests.Dec()
	}

	targetURL := ginContext.Query(urlQueryKey)
	expansion, err := handler.expander.Expand(ginContext.Request.Context(), targetURL)
	switch {
	case errors.Is(err, expander.ErrMissingURL):
		ginContext.JSON(http.StatusBadRequest, gin.H{ResponseKeyError: ErrorMessageMissingURL})
		return
	case errors.Is(err, expander.ErrNoRedirect):
		handler.logger.Info(logMessageExpansionNoTarget, zap.String(logFieldURL, targetURL))
		ginContext.JSON(http.StatusBadRequest, gin.H{ResponseKeyError: ErrorMessageNoRedirect})
		return
	case err != nil:
		handler.logger.Error(logMessageExpansionFailed, zap.String(logFieldURL, targetURL), zap.Error(err))
		ginContext.JSON(http.StatusInternalServerError, gin.H{ResponseKeyError: ErrorMessageExpansionFailed})
		return
	}

	if expansion.Coordinate == nil {
		ginContext.JSON(http.StatusOK, gin.H{
			ResponseKeyExpanded: expansion.ExpandedURL,
			ResponseKeyError:    ErrorMessageNoCoordinates,
		})
		return
	}
	ginContext.JSON(http.StatusOK, gin.H{
		ResponseKeyExpanded:  expansion.ExpandedURL,
		ResponseKeyLatitude:  expansion.Coordinate.LatitudeText(),
		ResponseKeyLongitude: expansion.Coordinate.LongitudeText(),
	})
}

func (handler expansionHandler) healthStatus(ginContext *gin.Context) {
	ginContext.JSON(http.StatusOK, map[string]string{healthStatusKey: healthStatusOK})
}

// corsMiddleware lets browser callers on allowedOrigin reach the service and
// answers preflight requests without reaching the handlers. The wildcard
// origin admits every caller.
func corsMiddleware(allowedOrigin string) (gin.HandlerFunc, error) {
	corsConfiguration := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{allowedHeaderContentType},
		MaxAge:       corsPreflightMaxAge,
	}
	if allowedOrigin == defaultAllowedOrigin {
		corsConfiguration.AllowAllOrigins = true
	} else {
		corsConfiguration.AllowOrigins = []string{allowedOrigin}
	}
	if err := corsConfiguration.Validate(); err != nil {
		return nil, fmt.Errorf("%s %q: %w", errMessageInvalidOrigin, allowedOrigin, err)
	}
	return cors.New(corsConfiguration), nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ginContext *gin.Context) {
		started := time.Now()
		ginContext.Next()
		logger.Debug(logMessageRequestServed,
			zap.String(logFieldMethod, ginContext.Request.Method),
			zap.String(logFieldPath, ginContext.Request.URL.Path),
			zap.Int(logFieldStatus, ginContext.Writer.Status()),
			zap.Duration(logFieldLatency, time.Since(started)),
		)
	}
}
