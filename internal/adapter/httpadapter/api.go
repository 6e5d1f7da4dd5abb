package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
)

type apiHandler struct {
	readings   ReadingQuerier
	thresholds ThresholdWriter
	invalidate func()
	logger     *slog.Logger
}

type readingsResponse struct {
	Data   []domain.Reading `json:"data"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// listReadings serves GET /api/readings?from&to&limit&offset&device.
func (h *apiHandler) listReadings(w http.ResponseWriter, r *http.Request) {
	q, err := parseReadingQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	readings, err := h.readings.Query(r.Context(), q)
	if err != nil {
		h.logger.Error("query readings failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}

	sharedobs.WriteJSON(w, http.StatusOK, readingsResponse{
		Data:   readings,
		Limit:  q.EffectiveLimit(),
		Offset: q.Offset,
	})
}

func parseReadingQuery(r *http.Request) (domain.ReadingQuery, error) {
	values := r.URL.Query()
	var q domain.ReadingQuery

	var err error
	if q.From, err = parseTime(values.Get("from")); err != nil {
		return q, fmt.Errorf("invalid from: %w", err)
	}
	if q.To, err = parseTime(values.Get("to")); err != nil {
		return q, fmt.Errorf("invalid to: %w", err)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To) {
		return q, errors.New("from must not be after to")
	}
	if q.Limit, err = parseNonNegative(values.Get("limit")); err != nil {
		return q, fmt.Errorf("invalid limit: %w", err)
	}
	if q.Offset, err = parseNonNegative(values.Get("offset")); err != nil {
		return q, fmt.Errorf("invalid offset: %w", err)
	}
	q.DeviceSerial = strings.TrimSpace(values.Get("device"))
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseNonNegative(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

type thresholdRequest struct {
	PPM *float64 `json:"ppm"`
}

// putThreshold serves PUT /api/thresholds (global) and PUT /api/thresholds/{serial}.
func (h *apiHandler) putThreshold(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	var req thresholdRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.PPM == nil || math.IsNaN(*req.PPM) || math.IsInf(*req.PPM, 0) || *req.PPM < 0 {
		writeError(w, http.StatusBadRequest, errors.New("ppm must be a non-negative number"))
		return
	}

	if err := h.thresholds.SetThreshold(r.Context(), serial, *req.PPM); err != nil {
		h.logger.Error("set threshold failed", "error", err, "device_serial", serial)
		writeError(w, http.StatusInternalServerError, errors.New("update failed"))
		return
	}
	if h.invalidate != nil {
		h.invalidate()
	}
	h.logger.Info("threshold updated", "device_serial", serial, "ppm", *req.PPM)

	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"deviceSerial": serial, "ppm": *req.PPM})
}

func writeError(w http.ResponseWriter, status int, err error) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
