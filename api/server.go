// Package api exposes the order query service over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aluiziolira/go-scop-orders/models"
	"github.com/aluiziolira/go-scop-orders/pool"
	"github.com/aluiziolira/go-scop-orders/scraper"
)

const maxBodyBytes = 64 << 10

// QueryService answers order queries.
type QueryService interface {
	Query(ctx context.Context, in scraper.InboundRequest) (*models.QueryResult, error)
}

// Options wires the router's collaborators. Stats and Metrics are optional.
type Options struct {
	Service QueryService
	Stats   func() pool.Stats
	Metrics http.Handler
	Logger  *slog.Logger
}

type handler struct {
	svc    QueryService
	stats  func() pool.Stats
	logger *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{svc: opts.Service, stats: opts.Stats, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if h.stats == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "pool not wired"})
			return
		}
		writeJSON(w, http.StatusOK, h.stats())
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/api/orders", h.handleQuery(decodeOrderRequest))
	r.Post("/api/osigermin-Scoop", h.handleQuery(decodeLegacyRequest))
	return r
}

type errorBody struct {
	Error string `json:"error"`
}

type orderRequest struct {
	AuthorizationCode looseString `json:"authorizationCode"`
	SiteKey           looseString `json:"siteKey"`
}

type legacyRequest struct {
	AuthorizationCode looseString `json:"codigo_autorizacion"`
	SiteKey           looseString `json:"U_RS_Local"`
}

type decodeFunc func(body []byte) (scraper.InboundRequest, error)

func decodeOrderRequest(body []byte) (scraper.InboundRequest, error) {
	var req orderRequest
	if err := decodeBody(body, &req); err != nil {
		return scraper.InboundRequest{}, err
	}
	return scraper.InboundRequest{
		AuthorizationCode: string(req.AuthorizationCode),
		SiteKey:           string(req.SiteKey),
	}, nil
}

func decodeLegacyRequest(body []byte) (scraper.InboundRequest, error) {
	var req legacyRequest
	if err := decodeBody(body, &req); err != nil {
		return scraper.InboundRequest{}, err
	}
	return scraper.InboundRequest{
		AuthorizationCode: string(req.AuthorizationCode),
		SiteKey:           string(req.SiteKey),
	}, nil
}

// decodeBody treats an empty body as an empty request so the service
// reports the missing fields.
func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (h *handler) handleQuery(decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
			return
		}
		in, err := decode(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		res, err := h.svc.Query(r.Context(), in)
		if err != nil {
			writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func statusFor(err error) int {
	switch {
	case scraper.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// looseString accepts a JSON string or number. Site keys are sent both ways.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = looseString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = looseString(num.String())
	return nil
}
