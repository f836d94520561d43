package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"carelink-core/internal/engine"
	"carelink-core/internal/repository"
)

const devicesPathPrefix = "/care/api/v1/devices"

// DeviceHandler 设备查询与排程入口 Handler
// 晨间打卡窗口/宽限期/漏打卡由外部排程器按各病房的作息时间调用
type DeviceHandler struct {
	engine  *engine.Engine
	devices *repository.DevicesRepository
	logger  *zap.Logger
}

// NewDeviceHandler 创建设备 Handler
func NewDeviceHandler(eng *engine.Engine, devices *repository.DevicesRepository, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		engine:  eng,
		devices: devices,
		logger:  logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	rest := strings.TrimPrefix(path, devicesPathPrefix+"/")
	if rest == "" || rest == path {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.GetDevice(w, r, parts[0])
	case len(parts) == 2 && r.Method == http.MethodPost:
		deviceID, action := parts[0], parts[1]
		switch action {
		case "morning-window":
			h.BeginMorningWindow(w, r, deviceID)
		case "grace-period":
			h.BeginGracePeriod(w, r, deviceID)
		case "missed-checkin":
			h.MissedCheckin(w, r, deviceID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetDevice 查询设备当前状态
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err, deviceID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(device))
}

// BeginMorningWindow 打开晨间打卡窗口（IDLE → MORNING_WINDOW）
func (h *DeviceHandler) BeginMorningWindow(w http.ResponseWriter, r *http.Request, deviceID string) {
	if err := h.engine.BeginMorningWindow(r.Context(), deviceID); err != nil {
		h.writeError(w, err, deviceID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": deviceID}))
}

// BeginGracePeriod 进入打卡宽限期（MORNING_WINDOW → GRACE_PERIOD）
func (h *DeviceHandler) BeginGracePeriod(w http.ResponseWriter, r *http.Request, deviceID string) {
	if err := h.engine.BeginGracePeriod(r.Context(), deviceID); err != nil {
		h.writeError(w, err, deviceID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": deviceID}))
}

// MissedCheckin 宽限期超时未打卡，升级为协助请求
func (h *DeviceHandler) MissedCheckin(w http.ResponseWriter, r *http.Request, deviceID string) {
	event, err := h.engine.MissedCheckin(r.Context(), deviceID)
	if err != nil {
		h.writeError(w, err, deviceID)
		return
	}
	writeJSON(w, http.StatusOK, Ok(event))
}

func (h *DeviceHandler) writeError(w http.ResponseWriter, err error, deviceID string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Device operation failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		writeJSON(w, status, Fail("internal error"))
		return
	}
	writeJSON(w, status, Fail(err.Error()))
}
