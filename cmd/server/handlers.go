package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/darkscan"
	"github.com/brunobiangulo/darkscan/block"
)

type handler struct {
	svc darkscan.Service
}

func newHandler(svc darkscan.Service) *handler {
	return &handler{svc: svc}
}

// POST /collect
// Accepts a capture from a browser client and queues it for background
// classification. Returns the capture ID immediately.
func (h *handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	var c block.Capture
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := h.svc.Collect(r.Context(), c)
	if err != nil {
		if errors.Is(err, darkscan.ErrNoText) {
			writeError(w, http.StatusBadRequest, "capture carries no text")
			return
		}
		writeError(w, http.StatusInternalServerError, "collect failed")
		slog.Error("collect error", "url", c.TabURL, "error", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"capture_id": id,
		"status":     "pending",
	})
}

// POST /predict
// Classifies delimiter-encoded text synchronously without persisting it.
func (h *handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	results, err := h.svc.PredictText(ctx, req.Text)
	if err != nil {
		if errors.Is(err, darkscan.ErrNoText) {
			writeError(w, http.StatusBadRequest, "no usable text after splitting")
			return
		}
		if errors.Is(err, darkscan.ErrEmbeddingFailed) {
			writeError(w, http.StatusBadGateway, "embedding backend unavailable")
			slog.Error("predict error", "error", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "prediction failed")
		slog.Error("predict error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

// GET /captures/{id}
func (h *handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	id, ok := captureID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Results(r.Context(), id)
	if err != nil {
		if errors.Is(err, darkscan.ErrCaptureNotFound) {
			writeError(w, http.StatusNotFound, "capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load capture")
		slog.Error("capture lookup error", "capture", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// GET /captures/{id}/progress
func (h *handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := captureID(w, r)
	if !ok {
		return
	}

	p, err := h.svc.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, darkscan.ErrCaptureNotFound) {
			writeError(w, http.StatusNotFound, "capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		slog.Error("progress lookup error", "capture", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// GET /captures/{id}/results
func (h *handler) handleCaptureResults(w http.ResponseWriter, r *http.Request) {
	id, ok := captureID(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Results(r.Context(), id)
	if err != nil {
		if errors.Is(err, darkscan.ErrCaptureNotFound) {
			writeError(w, http.StatusNotFound, "capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load results")
		slog.Error("results lookup error", "capture", id, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"capture_id": id,
		"status":     res.Capture.ModelingStatus,
		"results":    res.Results,
	})
}

// GET /results/summary
func (h *handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		slog.Error("summary error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"instance": h.svc.InstanceID(),
	})
}

func captureID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid capture id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
