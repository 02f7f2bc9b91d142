// Package api exposes the analysis service and the stored report snapshots
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bfsujason/llm-corpus-annotation/internal/analysis"
	"github.com/bfsujason/llm-corpus-annotation/internal/similarity"
	"github.com/bfsujason/llm-corpus-annotation/internal/tagfreq"
	apperrors "github.com/bfsujason/llm-corpus-annotation/pkg/errors"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
)

// Defaults fill in parameters a request leaves out.
type Defaults struct {
	TopN    int
	MinDiff int
}

// Handler serves the analysis endpoints.
type Handler struct {
	svc      *analysis.Service
	defaults Defaults
	logger   *slog.Logger
}

func NewHandler(svc *analysis.Service, defaults Defaults) *Handler {
	return &Handler{
		svc:      svc,
		defaults: defaults,
		logger:   logger.WithComponent("api"),
	}
}

// Versions describes the loaded corpus.
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	c := h.svc.Corpus()
	writeJSON(w, http.StatusOK, map[string]any{
		"corpus":             c.Path,
		"versions":           c.Versions,
		"records":            c.Len(),
		"source_annotations": c.HasSourceAnnotations(),
		"stats":              c.Stats,
	})
}

func (h *Handler) Similarity(w http.ResponseWriter, r *http.Request) {
	metric, err := similarity.ParseMetric(r.URL.Query().Get("metric"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	matrix, err := h.svc.Similarity(r.Context(), analysis.SimilarityRequest{Metric: metric})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

func (h *Handler) SimilarityExamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := analysis.ExamplesRequest{VersionA: q.Get("a"), VersionB: q.Get("b")}
	if req.VersionA == "" || req.VersionB == "" {
		writeError(r.Context(), w, apperrors.New(apperrors.ErrInvalidInput, 0, "a and b are required"))
		return
	}
	var err error
	if req.Metric, err = similarity.ParseMetric(q.Get("metric")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.TopN, err = intParam(r, "top_n", h.defaults.TopN); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	examples, err := h.svc.SimilarityExamples(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"a":        req.VersionA,
		"b":        req.VersionB,
		"metric":   req.Metric,
		"examples": nonNil(examples),
	})
}

// Frequency handles GET with a preset grouping named by ?preset=, which
// defaults to the dimension's own preset.
func (h *Handler) Frequency(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dim, err := tagfreq.ParseDimension(q.Get("dimension"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	query := tagfreq.Query{
		Dimension: dim,
		Versions:  csvParam(r, "versions"),
		Match:     tagfreq.MatchPolicy(q.Get("match")),
	}
	if name := q.Get("preset"); name != "" {
		preset, err := tagfreq.ParseDimension(name)
		if err != nil {
			writeError(r.Context(), w, apperrors.Newf(apperrors.ErrInvalidInput, 0, "unknown preset %q", name))
			return
		}
		query.Grouping = h.svc.Preset(preset)
	}
	h.frequency(w, r, query)
}

// FrequencyQuery handles POST with a caller-supplied grouping.
func (h *Handler) FrequencyQuery(w http.ResponseWriter, r *http.Request) {
	var query tagfreq.Query
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&query); err != nil {
		writeError(r.Context(), w, apperrors.Newf(apperrors.ErrInvalidInput, 0, "invalid JSON body: %v", err))
		return
	}
	h.frequency(w, r, query)
}

func (h *Handler) frequency(w http.ResponseWriter, r *http.Request, query tagfreq.Query) {
	table, err := h.svc.Frequency(r.Context(), query)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if table.Rows == nil {
		table.Rows = []tagfreq.Row{}
	}
	writeJSON(w, http.StatusOK, table)
}

func (h *Handler) Divergence(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := analysis.DivergenceRequest{
		Feature:  q.Get("feature"),
		Tags:     csvParam(r, "tags"),
		VersionA: q.Get("a"),
		VersionB: q.Get("b"),
	}
	if req.VersionA == "" || req.VersionB == "" {
		writeError(r.Context(), w, apperrors.New(apperrors.ErrInvalidInput, 0, "a and b are required"))
		return
	}
	var err error
	if req.MinDiff, err = intParam(r, "min_diff", h.defaults.MinDiff); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.TopN, err = intParam(r, "top_n", h.defaults.TopN); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	examples, err := h.svc.Divergence(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"feature":  req.Feature,
		"tags":     req.Tags,
		"a":        req.VersionA,
		"b":        req.VersionB,
		"examples": nonNil(examples),
	})
}

// ReportLister is satisfied by *analysis.Store.
type ReportLister interface {
	Recent(ctx context.Context, kind analysis.ReportKind, limit int) ([]analysis.ReportEvent, error)
}

// Reports serves stored report snapshots.
type Reports struct {
	store ReportLister
}

func NewReports(store ReportLister) *Reports {
	return &Reports{store: store}
}

func (h *Reports) List(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 20)
	if err != nil || limit <= 0 || limit > 100 {
		writeError(r.Context(), w, apperrors.New(apperrors.ErrInvalidInput, 0, "limit must be between 1 and 100"))
		return
	}
	kind := analysis.ReportKind(r.URL.Query().Get("kind"))

	events, err := h.store.Recent(r.Context(), kind, limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": nonNil(events),
		"count":   len(events),
		"limit":   limit,
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, 0, "%s must be an integer, got %q", name, v)
	}
	return n, nil
}

func csvParam(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(ctx)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "error", err)
		if !errors.Is(err, apperrors.ErrResourceUnavailable) && !errors.Is(err, apperrors.ErrTimeout) {
			message = "internal error"
		}
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
