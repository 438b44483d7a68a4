package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mt-karim/shopboard/services/board-service/internal/audit"
	"github.com/mt-karim/shopboard/services/board-service/internal/board"
	"github.com/mt-karim/shopboard/services/board-service/internal/model"
	"github.com/mt-karim/shopboard/services/board-service/internal/move"
	"github.com/mt-karim/shopboard/services/board-service/internal/stats"
	"github.com/mt-karim/shopboard/services/board-service/internal/storage"
	"github.com/mt-karim/shopboard/services/board-service/internal/transition"
)

// ActorIDHeader carries the caller identity. Authorization happens upstream;
// this service only records who acted.
const ActorIDHeader = "X-Actor-Id"

type Mover interface {
	Move(ctx context.Context, req move.Request) (move.Result, error)
}

type BoardReader interface {
	GetBoard(ctx context.Context, q board.Query) (board.Board, error)
}

type StatsReader interface {
	GetSummary(ctx context.Context, from, to time.Time) (stats.Summary, error)
	Invalidate(ctx context.Context, days ...time.Time) error
}

type AppointmentGetter interface {
	GetByID(ctx context.Context, id string) (model.Appointment, error)
}

type AuditReader interface {
	ListRecent(ctx context.Context, limit int) ([]audit.StoredEntry, error)
}

type BoardHandler struct {
	mover    Mover
	boards   BoardReader
	statsSvc StatsReader
	appts    AppointmentGetter
	auditLog AuditReader
	logger   *slog.Logger
}

func NewBoardHandler(mover Mover, boards BoardReader, statsSvc StatsReader, appts AppointmentGetter, auditLog AuditReader, logger *slog.Logger) *BoardHandler {
	return &BoardHandler{
		mover:    mover,
		boards:   boards,
		statsSvc: statsSvc,
		appts:    appts,
		auditLog: auditLog,
		logger:   logger,
	}
}

type moveRequest struct {
	AppointmentID   string `json:"appointment_id"`
	TargetStatus    string `json:"target_status"`
	TargetPosition  *int32 `json:"target_position"`
	ExpectedVersion int64  `json:"expected_version"`
}

type moveResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Position int32  `json:"position"`
	Version  int64  `json:"version"`
}

func (h *BoardHandler) Move(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actorID := strings.TrimSpace(r.Header.Get(ActorIDHeader))
	if actorID == "" {
		writeValidationError(w, "missing "+ActorIDHeader+" header")
		return
	}

	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeValidationError(w, "appointment_id is required")
		return
	}
	if req.ExpectedVersion < 1 {
		writeValidationError(w, "expected_version must be a positive integer")
		return
	}
	target, err := model.ParseStatus(strings.TrimSpace(req.TargetStatus))
	if err != nil {
		writeValidationError(w, "unknown target_status")
		return
	}

	result, err := h.mover.Move(r.Context(), move.Request{
		AppointmentID:   req.AppointmentID,
		TargetStatus:    target,
		TargetPosition:  req.TargetPosition,
		ExpectedVersion: req.ExpectedVersion,
		ActorID:         actorID,
	})
	if err != nil {
		h.writeMoveError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, moveResponse{
		ID:       result.ID,
		Status:   result.Status.String(),
		Position: result.Position,
		Version:  result.Version,
	})
}

// writeMoveError maps the move error taxonomy onto structured responses.
// Conflicts and invalid transitions are expected outcomes with reconciliation
// payloads, not opaque failures.
func (h *BoardHandler) writeMoveError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *transition.InvalidTransitionError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code": "invalid_transition",
			"from": invalid.From.String(),
			"to":   invalid.To.String(),
		})
		return
	}

	var conflict *move.VersionConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":            "version_conflict",
			"current_version": conflict.CurrentVersion,
			"current_status":  conflict.CurrentStatus.String(),
		})
		return
	}

	if storage.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "not_found"})
		return
	}

	h.logger.Error("move failed", "err", err, "path", r.URL.Path)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
}

func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, to, err := parseDateRange(r.URL.Query().Get("date_from"), r.URL.Query().Get("date_to"))
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	b, err := h.boards.GetBoard(r.Context(), board.Query{
		From:   from,
		To:     to,
		TechID: strings.TrimSpace(r.URL.Query().Get("tech_id")),
	})
	if err != nil {
		h.logger.Error("board read failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BoardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from, to, err := parseDateRange(r.URL.Query().Get("date_from"), r.URL.Query().Get("date_to"))
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	summary, err := h.statsSvc.GetSummary(r.Context(), from, to)
	if err != nil {
		h.logger.Error("stats read failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type invalidateRequest struct {
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

// InvalidateStats is the public freshness hook for collaborator modules
// (payments, services): they call it after their own mutations instead of
// this core polling them.
func (h *BoardHandler) InvalidateStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidationError(w, "invalid json body")
		return
	}
	from, to, err := parseDateRange(req.DateFrom, req.DateTo)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := h.statsSvc.Invalidate(r.Context(), stats.DaysCovered(from, to)...); err != nil {
		h.logger.Error("stats invalidation failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BoardHandler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeValidationError(w, "id is required")
		return
	}

	appt, err := h.appts.GetByID(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "not_found"})
			return
		}
		h.logger.Error("appointment read failed", "err", err, "id", id)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":           appt.ID,
		"status":       appt.Status.String(),
		"position":     appt.Position,
		"version":      appt.Version,
		"start_time":   appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":     appt.EndTime.UTC().Format(time.RFC3339),
		"check_in_at":  formatNullableTime(appt.CheckInAt),
		"check_out_at": formatNullableTime(appt.CheckOutAt),
	})
}

func (h *BoardHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeValidationError(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.auditLog.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("audit read failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"code": "internal_error"})
		return
	}
	if entries == nil {
		entries = []audit.StoredEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// parseDateRange reads day-granular bounds; date_to is inclusive and both are
// interpreted as UTC days.
func parseDateRange(rawFrom, rawTo string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(rawFrom), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("date_from must be YYYY-MM-DD")
	}
	to, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(rawTo), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("date_to must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("date_to must not be before date_from")
	}
	return from, to.Add(24 * time.Hour), nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"code":    "validation_error",
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
