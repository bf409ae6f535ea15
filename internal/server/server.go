// Package server exposes the lookup service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// Service is the read side the handlers call.
type Service interface {
	Lookup(ctx context.Context, q lookup.Query) (*lookup.Profile, error)
	Match(ctx context.Context, name string, hints match.Hints) (model.MatchResult, error)
	Receipts(ctx context.Context, q warehouse.ReceiptQuery) (*lookup.ReceiptPage, error)
	Snapshot() *snapshot.Snapshot
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// MetricsHandler serves /metrics. Default: promhttp.Handler().
	MetricsHandler http.Handler
	// MaxBatch caps rows per POST /match. Default: 1000.
	MaxBatch int
}

type handler struct {
	svc      Service
	maxBatch int
	log      *zap.Logger
}

// NewRouter mounts every endpoint.
func NewRouter(svc Service, opts Options) http.Handler {
	h := &handler{svc: svc, maxBatch: opts.MaxBatch, log: zap.L().With(zap.String("component", "server"))}
	if h.maxBatch <= 0 {
		h.maxBatch = 1000
	}
	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	r.Get("/candidates/{id}", h.getCandidate)
	r.Get("/candidates/{id}/receipts", h.getReceipts)
	r.Get("/candidates", h.searchCandidates)
	r.Post("/match", h.match)
	return r
}

func (h *handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type healthResponse struct {
	Status   string         `json:"status"`
	Snapshot string         `json:"snapshot,omitempty"`
	Builds   map[int]string `json:"builds,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	snap := h.svc.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "no_snapshot"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Snapshot: snap.Version, Builds: snap.Builds})
}

func (h *handler) getCandidate(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Lookup(r.Context(), lookup.Query{ID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// getReceipts pages itemized receipts. cycle may repeat or be a
// comma-separated list; absent means every published cycle.
func (h *handler) getReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq := warehouse.ReceiptQuery{CandidateID: chi.URLParam(r, "id")}
	var err error
	if rq.Limit, err = intParam(q.Get("limit")); err != nil {
		badRequest(w, "limit must be an integer")
		return
	}
	if rq.Page, err = intParam(q.Get("page")); err != nil {
		badRequest(w, "page must be an integer")
		return
	}
	for _, v := range q["cycle"] {
		for _, part := range strings.Split(v, ",") {
			c, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				badRequest(w, "cycle must be an integer")
				return
			}
			rq.Cycles = append(rq.Cycles, c)
		}
	}

	page, err := h.svc.Receipts(r.Context(), rq)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func badRequest(w http.ResponseWriter, desc string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Description: desc})
}

func (h *handler) searchCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := lookup.Query{
		ID:     q.Get("id"),
		Name:   q.Get("name"),
		State:  q.Get("state"),
		Office: q.Get("office"),
	}
	if strings.TrimSpace(query.ID) == "" && strings.TrimSpace(query.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Description: "name or id is required"})
		return
	}
	p, err := h.svc.Lookup(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// MatchRow is one collaborator row to match.
type MatchRow struct {
	Name   string `json:"name"`
	State  string `json:"state,omitempty"`
	Office string `json:"office,omitempty"`
}

type matchRequest struct {
	MatchRow
	Rows []MatchRow `json:"rows,omitempty"`
}

type matchResponse struct {
	Results []model.MatchResult `json:"results"`
	Version string              `json:"snapshot_version"`
}

// match accepts a single row or a batch under "rows". Results come back
// in request order; unmatched rows carry tier "none" and no ids.
func (h *handler) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Description: "invalid request body"})
		return
	}
	rows := req.Rows
	if len(rows) == 0 {
		rows = []MatchRow{req.MatchRow}
	}
	if len(rows) > h.maxBatch {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Description: "too many rows"})
		return
	}

	snap := h.svc.Snapshot()
	if snap == nil {
		h.writeError(w, model.ErrNoPublishedSnapshot)
		return
	}
	out := matchResponse{Results: make([]model.MatchResult, 0, len(rows)), Version: snap.Version}
	for _, row := range rows {
		res, err := h.svc.Match(r.Context(), row.Name, match.Hints{State: row.State, Office: row.Office})
		if err != nil {
			h.writeError(w, err)
			return
		}
		out.Results = append(out.Results, res)
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error        string   `json:"error"`
	Description  string   `json:"error_description,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	var amb *model.AmbiguousNameError
	switch {
	case errors.As(err, &amb):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:        "ambiguous_name",
			Description:  "name matches more than one candidate",
			CandidateIDs: amb.IDs,
		})
	case errors.Is(err, lookup.ErrInvalidQuery):
		badRequest(w, "limit must be 1..1000 and page at least 1")
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
	case errors.Is(err, model.ErrNoPublishedSnapshot):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "no_snapshot", Description: "no published snapshot"})
	default:
		h.log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
