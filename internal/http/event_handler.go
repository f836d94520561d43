package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"carelink-core/internal/engine"
	"carelink-core/internal/models"
	"carelink-core/internal/repository"
)

const eventsPathPrefix = "/care/api/v1/events"

// EventHandler 事件生命周期 Handler（护理人员操作面）
type EventHandler struct {
	engine *engine.Engine
	events *repository.EventsRepository
	logger *zap.Logger
}

// NewEventHandler 创建事件 Handler
func NewEventHandler(eng *engine.Engine, events *repository.EventsRepository, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		engine: eng,
		events: events,
		logger: logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	path := r.URL.Path

	if path == eventsPathPrefix && r.Method == http.MethodGet {
		h.ListEvents(w, r)
		return
	}

	rest := strings.TrimPrefix(path, eventsPathPrefix+"/")
	if rest == "" || rest == path {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.GetEvent(w, r, parts[0])
	case len(parts) == 2 && r.Method == http.MethodPost:
		eventID, action := parts[0], parts[1]
		switch action {
		case "acknowledge":
			h.Acknowledge(w, r, eventID)
		case "resolve":
			h.Resolve(w, r, eventID)
		case "cancel":
			h.Cancel(w, r, eventID)
		case "complete":
			h.Complete(w, r, eventID)
		case "triage":
			h.Triage(w, r, eventID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ============================================
// ListEvents 查询事件列表
// ============================================

func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("page_size"), 20)

	filters := repository.EventFilters{}
	if deviceID := strings.TrimSpace(r.URL.Query().Get("device_id")); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if eventType := strings.TrimSpace(r.URL.Query().Get("event_type")); eventType != "" {
		filters.EventType = &eventType
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		if strings.Contains(status, ",") {
			filters.Statuses = strings.Split(status, ",")
		} else {
			filters.Status = &status
		}
	}
	if startStr := strings.TrimSpace(r.URL.Query().Get("start_time")); startStr != "" {
		if ts := parseInt(startStr, 0); ts > 0 {
			start := time.Unix(int64(ts), 0)
			filters.StartTime = &start
		}
	}
	if endStr := strings.TrimSpace(r.URL.Query().Get("end_time")); endStr != "" {
		if ts := parseInt(endStr, 0); ts > 0 {
			end := time.Unix(int64(ts), 0)
			filters.EndTime = &end
		}
	}

	events, total, err := h.events.ListEvents(ctx, filters, page, pageSize)
	if err != nil {
		h.logger.Error("Failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to list events"))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": events,
		"total": total,
		"page":  page,
		"size":  pageSize,
	}))
}

// GetEvent 查询单个事件
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	event, err := h.events.GetEvent(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// ============================================
// 生命周期操作
// ============================================

// Acknowledge 护理人员确认事件（PENDING → ACKNOWLEDGED）
func (h *EventHandler) Acknowledge(w http.ResponseWriter, r *http.Request, eventID string) {
	var body struct {
		CaregiverID string `json:"caregiver_id"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.CaregiverID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("caregiver_id is required"))
		return
	}

	event, err := h.engine.Acknowledge(r.Context(), eventID, body.CaregiverID)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// Resolve 现场处理完成（ACKNOWLEDGED → RESOLVED，SOS 必须先分诊）
func (h *EventHandler) Resolve(w http.ResponseWriter, r *http.Request, eventID string) {
	var body struct {
		Note *string `json:"note"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	event, err := h.engine.Resolve(r.Context(), eventID, body.Note)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// Cancel 取消未终止的事件
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request, eventID string) {
	event, err := h.engine.Cancel(r.Context(), eventID)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// Complete 报告完结（RESOLVED → COMPLETED）
func (h *EventHandler) Complete(w http.ResponseWriter, r *http.Request, eventID string) {
	var body struct {
		Note *string `json:"note"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}

	event, err := h.engine.Complete(r.Context(), eventID, body.Note)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// Triage SOS 分诊定性
func (h *EventHandler) Triage(w http.ResponseWriter, r *http.Request, eventID string) {
	var body struct {
		Decision    string  `json:"decision"`
		Note        *string `json:"note"`
		CaregiverID string  `json:"caregiver_id"`
	}
	if err := readBodyJSON(r, 1<<20, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid request body"))
		return
	}
	if body.Decision != models.TriageTrueSOS && body.Decision != models.TriageDowngradedToAssist {
		writeJSON(w, http.StatusBadRequest, Fail("decision must be TRUE_SOS or DOWNGRADED_TO_ASSIST"))
		return
	}
	if body.CaregiverID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("caregiver_id is required"))
		return
	}

	event, err := h.engine.Triage(r.Context(), eventID, body.Decision, body.Note, body.CaregiverID)
	if err != nil {
		h.writeError(w, err, eventID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

// writeError 将领域错误映射为 HTTP 状态码
func (h *EventHandler) writeError(w http.ResponseWriter, err error, eventID string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Event operation failed",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		writeJSON(w, status, Fail("internal error"))
		return
	}
	writeJSON(w, status, Fail(err.Error()))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrEventNotFound),
		errors.Is(err, repository.ErrDeviceNotFound),
		errors.Is(err, engine.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrWrongEventType),
		errors.Is(err, engine.ErrNoteRequired),
		errors.Is(err, engine.ErrUnknownTrigger):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrStatusConflict),
		errors.Is(err, engine.ErrConcurrentModification),
		errors.Is(err, engine.ErrAlreadyTriaged),
		errors.Is(err, engine.ErrWrongStatus):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
