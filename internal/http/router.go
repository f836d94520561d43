package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterEventRoutes 注册事件生命周期路由
func (r *Router) RegisterEventRoutes(h *EventHandler) {
	r.Handle(eventsPathPrefix, h.ServeHTTP)
	r.Handle(eventsPathPrefix+"/", h.ServeHTTP)
}

// RegisterDeviceRoutes 注册设备查询与排程路由
func (r *Router) RegisterDeviceRoutes(h *DeviceHandler) {
	r.Handle(devicesPathPrefix, h.ServeHTTP)
	r.Handle(devicesPathPrefix+"/", h.ServeHTTP)
}

// RegisterHealthRoute 健康检查
func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}
