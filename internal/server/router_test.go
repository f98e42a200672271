package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coalsense/geolink/internal/coordinates"
	"github.com/coalsense/geolink/internal/expander"
	"github.com/coalsense/geolink/internal/metrics"
	"github.com/coalsense/geolink/internal/server"
)

const (
	routerTestShortURL       = "https://maps.app.goo.gl/abc123"
	routerTestExpandedURL    = "https://www.google.com/maps/place/Colosseum/@41.8902102,12.4922309,17z"
	routerTestPlaceURL       = "https://www.google.com/maps/place/Colosseum"
	routerTestAllowedOrigin  = "https://app.example.com"
	routerTestCallerOrigin   = "https://caller.example.org"
	routerTestExpandPath     = "/expand?url="
	routerTestCreateRouterFn = "create router: %v"
)

type expanderStub struct {
	expansion    expander.Expansion
	err          error
	receivedURLs []string
}

func (stub *expanderStub) Expand(_ context.Context, targetURL string) (expander.Expansion, error) {
	stub.receivedURLs = append(stub.receivedURLs, targetURL)
	if strings.TrimSpace(targetURL) == "" {
		return expander.Expansion{}, expander.ErrMissingURL
	}
	return stub.expansion, stub.err
}

func newTestRouter(t *testing.T, configuration server.RouterConfig) http.Handler {
	t.Helper()
	router, err := server.NewRouter(configuration)
	if err != nil {
		t.Fatalf(routerTestCreateRouterFn, err)
	}
	return router
}

func decodeJSONBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestExpandRoute(t *testing.T) {
	colosseum, err := coordinates.New(41.8902102, 12.4922309)
	if err != nil {
		t.Fatalf("construct coordinate: %v", err)
	}

	testCases := []struct {
		name           string
		query          string
		stub           *expanderStub
		expectedStatus int
		expectedBody   map[string]string
	}{
		{
			name:           "coordinates from redirect",
			query:          routerTestShortURL,
			stub:           &expanderStub{expansion: expander.Expansion{ExpandedURL: routerTestExpandedURL, Coordinate: &colosseum, Source: expander.SourceRedirectURL}},
			expectedStatus: http.StatusOK,
			expectedBody: map[string]string{
				server.ResponseKeyExpanded:  routerTestExpandedURL,
				server.ResponseKeyLatitude:  "41.890210",
				server.ResponseKeyLongitude: "12.492231",
			},
		},
		{
			name:           "expanded url only",
			query:          routerTestShortURL,
			stub:           &expanderStub{expansion: expander.Expansion{ExpandedURL: routerTestPlaceURL}},
			expectedStatus: http.StatusOK,
			expectedBody: map[string]string{
				server.ResponseKeyExpanded: routerTestPlaceURL,
				server.ResponseKeyError:    server.ErrorMessageNoCoordinates,
			},
		},
		{
			name:           "missing url",
			query:          "",
			stub:           &expanderStub{},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]string{server.ResponseKeyError: server.ErrorMessageMissingURL},
		},
		{
			name:           "no redirect",
			query:          routerTestShortURL,
			stub:           &expanderStub{err: expander.ErrNoRedirect},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   map[string]string{server.ResponseKeyError: server.ErrorMessageNoRedirect},
		},
		{
			name:           "expansion failure",
			query:          routerTestShortURL,
			stub:           &expanderStub{err: fmt.Errorf("%w: %w", expander.ErrExpansionFailed, errors.New("dial tcp: refused"))},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   map[string]string{server.ResponseKeyError: server.ErrorMessageExpansionFailed},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			router := newTestRouter(t, server.RouterConfig{Expander: testCase.stub})

			request := httptest.NewRequest(http.MethodGet, routerTestExpandPath+testCase.query, nil)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d", testCase.expectedStatus, recorder.Code)
			}
			payload := decodeJSONBody(t, recorder)
			if len(payload) != len(testCase.expectedBody) {
				t.Fatalf("expected body %v, got %v", testCase.expectedBody, payload)
			}
			for key, expectedValue := range testCase.expectedBody {
				if payload[key] != expectedValue {
					t.Fatalf("expected %s=%q, got %q", key, expectedValue, payload[key])
				}
			}
		})
	}
}

func TestExpandRoutePassesDecodedURL(t *testing.T) {
	stub := &expanderStub{expansion: expander.Expansion{ExpandedURL: routerTestPlaceURL}}
	router := newTestRouter(t, server.RouterConfig{Expander: stub})

	escapedURL := "https%3A%2F%2Fmaps.app.goo.gl%2Fabc123%3Fg_st%3Dic"
	request := httptest.NewRequest(http.MethodGet, routerTestExpandPath+escapedURL, nil)
	router.ServeHTTP(httptest.NewRecorder(), request)

	if len(stub.receivedURLs) != 1 || stub.receivedURLs[0] != routerTestShortURL+"?g_st=ic" {
		t.Fatalf("unexpected received urls %v", stub.receivedURLs)
	}
}

func TestCORSHeaders(t *testing.T) {
	testCases := []struct {
		name           string
		allowedOrigin  string
		method         string
		requestOrigin  string
		expectedOrigin string
		expectedStatus int
	}{
		{name: "default origin", method: http.MethodGet, requestOrigin: routerTestCallerOrigin, expectedOrigin: "*", expectedStatus: http.StatusOK},
		{name: "configured origin", allowedOrigin: routerTestAllowedOrigin, method: http.MethodGet, requestOrigin: routerTestAllowedOrigin, expectedOrigin: routerTestAllowedOrigin, expectedStatus: http.StatusOK},
		{name: "foreign origin", allowedOrigin: routerTestAllowedOrigin, method: http.MethodGet, requestOrigin: routerTestCallerOrigin, expectedStatus: http.StatusForbidden},
		{name: "no origin header", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, requestOrigin: routerTestCallerOrigin, expectedOrigin: "*", expectedStatus: http.StatusNoContent},
		{name: "configured preflight", allowedOrigin: routerTestAllowedOrigin, method: http.MethodOptions, requestOrigin: routerTestAllowedOrigin, expectedOrigin: routerTestAllowedOrigin, expectedStatus: http.StatusNoContent},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			stub := &expanderStub{expansion: expander.Expansion{ExpandedURL: routerTestPlaceURL}}
			router := newTestRouter(t, server.RouterConfig{Expander: stub, AllowedOrigin: testCase.allowedOrigin})

			request := httptest.NewRequest(testCase.method, routerTestExpandPath+routerTestShortURL, nil)
			if testCase.requestOrigin != "" {
				request.Header.Set("Origin", testCase.requestOrigin)
			}
			if testCase.method == http.MethodOptions {
				request.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			if recorder.Code != testCase.expectedStatus {
				t.Fatalf("expected status %d, got %d", testCase.expectedStatus, recorder.Code)
			}
			if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != testCase.expectedOrigin {
				t.Fatalf("expected allowed origin %q, got %q", testCase.expectedOrigin, origin)
			}
			if testCase.method != http.MethodOptions {
				return
			}
			if methods := recorder.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, http.MethodGet) {
				t.Fatalf("expected GET among allowed methods, got %q", methods)
			}
			if len(stub.receivedURLs) != 0 {
				t.Fatalf("expected preflight to bypass the expander")
			}
		})
	}
}

func TestNewRouterRejectsInvalidOrigin(t *testing.T) {
	if _, err := server.NewRouter(server.RouterConfig{Expander: &expanderStub{}, AllowedOrigin: "app.example.com"}); err == nil {
		t.Fatalf("expected an origin without a scheme to be rejected")
	}
}

func TestHealthRoute(t *testing.T) {
	router := newTestRouter(t, server.RouterConfig{Expander: &expanderStub{}})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if payload := decodeJSONBody(t, recorder); payload["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", payload)
	}
}

func TestMetricsRoute(t *testing.T) {
	registry := prometheus.NewRegistry()
	serviceMetrics := metrics.NewMetrics(registry)
	serviceMetrics.RecordOutcome(metrics.OutcomeRedirectCoordinates)

	router := newTestRouter(t, server.RouterConfig{
		Expander: &expanderStub{},
		Metrics:  serviceMetrics,
		Gatherer: registry,
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `geolink_expansions_total{outcome="redirect_coordinates"} 1`) {
		t.Fatalf("expected expansion counter in exposition, got %s", recorder.Body.String())
	}
}

func TestMetricsRouteAbsentWithoutGatherer(t *testing.T) {
	router := newTestRouter(t, server.RouterConfig{Expander: &expanderStub{}})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", recorder.Code)
	}
}
