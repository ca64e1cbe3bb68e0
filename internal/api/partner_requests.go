package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"partnerqueue/internal/models"
)

func queueFilter(r *http.Request) (models.QueueFilter, error) {
	q := r.URL.Query()
	f := models.QueueFilter{
		Status: strings.TrimSpace(q.Get("status")),
		Search: strings.TrimSpace(q.Get("search")),
	}
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return f, fmt.Errorf("invalid status %q", f.Status)
	}
	var err error
	if f.Skip, err = intParam(q.Get("skip"), 0); err != nil {
		return f, fmt.Errorf("invalid skip: %w", err)
	}
	if f.Take, err = intParam(q.Get("take"), models.DefaultPageSize); err != nil {
		return f, fmt.Errorf("invalid take: %w", err)
	}
	return f, nil
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func (s *HTTPServer) listPartnerRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := queueFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.deps.Queue.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) exportPartnerRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := queueFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.deps.Queue.Export(r.Context(), filter, s.cfg.Exports.MaxRows)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	name := fmt.Sprintf("partner-requests-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := writeQueueWorkbook(w, items); err != nil {
		s.logger.Error().Err(err).Msg("export failed")
	}
}

func (s *HTTPServer) partnerRequestStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *HTTPServer) deadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeError(w, http.StatusNotFound, "dead letter list is disabled")
		return
	}
	limit, err := intParam(r.URL.Query().Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	items, err := s.deps.DeadLetters.Recent(r.Context(), int64(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) partnerRequestDetails(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	details, err := s.deps.Queue.Details(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) processPartnerRequest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Queue.ProcessNow(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) deletePartnerRequest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Queue.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type runBatchRequest struct {
	Limit      int  `json:"limit"`
	AllTenants bool `json:"allTenants"`
}

func (s *HTTPServer) runBatch(w http.ResponseWriter, r *http.Request) {
	var req runBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must not be negative")
		return
	}

	res, err := s.deps.Queue.RunBatch(r.Context(), req.Limit, req.AllTenants)
	if err != nil {
		s.logger.Error().Err(err).Msg("on-demand batch round reported errors")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     err.Error(),
			"pulled":    res.Pulled,
			"succeeded": res.Succeeded,
			"failed":    res.Failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
