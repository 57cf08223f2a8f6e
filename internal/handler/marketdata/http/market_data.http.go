package http

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quantbench/marketfeed-service/internal/config"
	"github.com/quantbench/marketfeed-service/internal/entity"
	"github.com/quantbench/marketfeed-service/internal/service/history"
	"github.com/quantbench/marketfeed-service/internal/service/series"
)

var (
	errAPIKeyMissing = errors.New("api key is required")
	errAPIKeyInvalid = errors.New("invalid api key")
)

// ConnectionSource exposes the most recent gateway connection state change.
// Satisfied by the redis live-bar store.
type ConnectionSource interface {
	LoadConnectionState(ctx context.Context) (entity.ConnectionStateChange, bool, error)
}

type Handler struct {
	merger     *series.Merger
	history    *history.Service
	connection ConnectionSource
}

func NewMarketDataHTTPHandler(merger *series.Merger, historyService *history.Service, connection ConnectionSource) *Handler {
	return &Handler{
		merger:     merger,
		history:    historyService,
		connection: connection,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/series", h.handleSeries)
	mux.HandleFunc("GET /api/v1/gaps", h.handleGaps)
	mux.HandleFunc("GET /api/v1/sync-status", h.handleSyncStatus)
	mux.HandleFunc("GET /api/v1/connection", h.handleConnection)
}

type barResponse struct {
	BucketStart int64  `json:"bucket_start_ms"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	IsFinal     bool   `json:"is_final"`
}

type seriesResponse struct {
	InstrumentID string        `json:"instrument_id"`
	Timeframe    string        `json:"timeframe"`
	Mode         string        `json:"mode"`
	Bars         []barResponse `json:"bars"`
}

type gapResponse struct {
	Start int64 `json:"start_ms"`
	End   int64 `json:"end_ms"`
}

type syncStatusResponse struct {
	InstrumentID string `json:"instrument_id"`
	Timeframe    string `json:"timeframe"`
	State        string `json:"state"`
	LastSyncedAt *int64 `json:"last_synced_at_ms,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
}

func (h *Handler) handleSeries(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	instrumentID, timeframe, err := instrumentParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	mode, err := series.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start, end, err := windowParams(r, timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bars, err := h.merger.RenderSeries(r.Context(), instrumentID, timeframe, mode, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := seriesResponse{
		InstrumentID: instrumentID,
		Timeframe:    string(timeframe),
		Mode:         string(mode),
		Bars:         make([]barResponse, 0, len(bars)),
	}
	for _, bar := range bars {
		resp.Bars = append(resp.Bars, barResponse{
			BucketStart: bar.BucketStart.UnixMilli(),
			Open:        bar.OpenPrice.String(),
			High:        bar.HighPrice.String(),
			Low:         bar.LowPrice.String(),
			Close:       bar.ClosePrice.String(),
			Volume:      bar.Volume.String(),
			IsFinal:     bar.IsFinal,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGaps(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	instrumentID, timeframe, err := instrumentParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start, end, err := windowParams(r, timeframe)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	gaps, err := h.history.FindGaps(r.Context(), instrumentID, timeframe, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]gapResponse, 0, len(gaps))
	for _, gap := range gaps {
		resp = append(resp, gapResponse{Start: gap.Start.UnixMilli(), End: gap.End.UnixMilli()})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var statuses []entity.SyncStatus

	instrumentID := strings.TrimSpace(r.URL.Query().Get("instrument_id"))
	timeframe := entity.Timeframe(strings.TrimSpace(r.URL.Query().Get("timeframe")))

	if instrumentID != "" && timeframe != "" {
		status, err := h.history.SyncStatus(r.Context(), instrumentID, timeframe)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSON(w, http.StatusOK, []syncStatusResponse{})
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		statuses = []entity.SyncStatus{*status}
	} else {
		all, err := h.history.SyncStatuses(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		statuses = all
	}

	resp := make([]syncStatusResponse, 0, len(statuses))
	for _, status := range statuses {
		item := syncStatusResponse{
			InstrumentID: status.InstrumentID,
			Timeframe:    string(status.Timeframe),
			State:        string(status.State),
			ErrorDetail:  status.ErrorDetail.String,
		}
		if status.LastSyncedAt.Valid {
			ms := status.LastSyncedAt.Time.UnixMilli()
			item.LastSyncedAt = &ms
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleConnection(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	change, found, err := h.connection.LoadConnectionState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		change = entity.ConnectionStateChange{
			State:      entity.ConnectionDisconnected,
			Message:    "gateway has not reported a connection state yet",
			OccurredAt: time.Time{},
		}
	}

	writeJSON(w, http.StatusOK, change)
}

func instrumentParams(r *http.Request) (string, entity.Timeframe, error) {
	instrumentID := strings.TrimSpace(r.URL.Query().Get("instrument_id"))
	if instrumentID == "" {
		return "", "", errors.New("instrument_id is required")
	}

	timeframe := entity.Timeframe(strings.TrimSpace(r.URL.Query().Get("timeframe")))
	if !timeframe.Valid() {
		return "", "", errors.New("timeframe is missing or unknown")
	}

	return instrumentID, timeframe, nil
}

func windowParams(r *http.Request, timeframe entity.Timeframe) (time.Time, time.Time, error) {
	interval, _ := timeframe.Duration()

	end := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be epoch milliseconds")
		}
		end = time.UnixMilli(ms).UTC()
	}

	start := end.Add(-300 * interval)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be epoch milliseconds")
		}
		start = time.UnixMilli(ms).UTC()
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}

	return start, end, nil
}

func validateAPIKey(r *http.Request) error {
	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		return nil
	}

	provided := strings.TrimSpace(r.Header.Get("X-Api-Key"))
	if provided == "" {
		return errAPIKeyMissing
	}

	for _, apiKey := range config.Env.APIKeys {
		if !apiKey.Active {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey.Key)) == 1 {
			return nil
		}
	}

	return errAPIKeyInvalid
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
