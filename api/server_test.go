package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/pool"
	"github.com/aluiziolira/go-scop-orders/scraper"
)

type stubService struct {
	got []scraper.InboundRequest
	res *models.QueryResult
	err error
}

func (s *stubService) Query(ctx context.Context, in scraper.InboundRequest) (*models.QueryResult, error) {
	s.got = append(s.got, in)
	return s.res, s.err
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestQueryRoutes(t *testing.T) {
	svc := &stubService{res: &models.QueryResult{Rows: []*models.ListingRow{{AuthorizationCode: "60825331621", Status: "SOLICITADO"}}}}
	r := NewRouter(Options{Service: svc})

	rec, body := do(t, r, http.MethodPost, "/api/orders", `{"authorizationCode":"60825331621","siteKey":"58"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)

	rec, _ = do(t, r, http.MethodPost, "/api/osigermin-Scoop", `{"codigo_autorizacion":"60825331621","U_RS_Local":58}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, []scraper.InboundRequest{
		{AuthorizationCode: "60825331621", SiteKey: "58"},
		{AuthorizationCode: "60825331621", SiteKey: "58"},
	}, svc.got)
}

func TestEmptyResultKeepsMessage(t *testing.T) {
	svc := &stubService{res: &models.QueryResult{Message: "no data"}}
	r := NewRouter(Options{Service: svc})

	rec, body := do(t, r, http.MethodPost, "/api/orders", `{"authorizationCode":"1","siteKey":"058"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{}, body["results"])
	require.Equal(t, "no data", body["message"])
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", scraper.ErrValidation{Field: "authorizationCode", Err: errors.New("required")}, http.StatusBadRequest},
		{"credential lookup", scraper.ErrCredentialLookup{SiteKey: "999"}, http.StatusBadRequest},
		{"browser init", scraper.ErrBrowserInit{Err: errors.New("no chromium")}, http.StatusInternalServerError},
		{"authentication", scraper.ErrAuthentication{Err: errors.New("bad password")}, http.StatusInternalServerError},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(Options{Service: &stubService{err: tc.err}})
			rec, body := do(t, r, http.MethodPost, "/api/orders", `{"authorizationCode":"1","siteKey":"058"}`)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestMalformedBody(t *testing.T) {
	svc := &stubService{}
	r := NewRouter(Options{Service: svc})

	rec, body := do(t, r, http.MethodPost, "/api/orders", `{"authorizationCode":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, body["error"], "invalid JSON body")
	require.Empty(t, svc.got)
}

func TestEmptyBodyReachesService(t *testing.T) {
	svc := &stubService{err: scraper.ErrValidation{Field: "authorizationCode", Err: errors.New("required")}}
	r := NewRouter(Options{Service: svc})

	rec, _ := do(t, r, http.MethodPost, "/api/orders", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, []scraper.InboundRequest{{}}, svc.got)
}

func TestOperationalRoutes(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "scop_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	r := NewRouter(Options{
		Service: &stubService{},
		Stats:   func() pool.Stats { return pool.Stats{Max: 20, Busy: 2, Idle: 1} },
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	rec, body := do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])

	rec, body = do(t, r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 20, body["max"])
	require.EqualValues(t, 2, body["busy"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	mrec := httptest.NewRecorder()
	r.ServeHTTP(mrec, req)
	require.Equal(t, http.StatusOK, mrec.Code)
	require.Contains(t, mrec.Body.String(), "scop_test_total 1")
}

func TestStatsWithoutPool(t *testing.T) {
	r := NewRouter(Options{Service: &stubService{}})
	rec, _ := do(t, r, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
