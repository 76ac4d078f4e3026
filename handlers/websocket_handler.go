package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/EllectronChik/server7x/realtime"
)

type WebSocketHandler struct {
	upgrader websocket.Upgrader
	deps     realtime.ConnectionDeps
	logger   *slog.Logger
}

// NewWebSocketHandler builds the upgrade handler shared by every topic.
// allowedOrigins containing "*" accepts any Origin header.
func NewWebSocketHandler(deps realtime.ConnectionDeps, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		deps:   deps,
		logger: logger,
	}
}

// ServeWs upgrades the request and runs the connection for topic until it closes.
func (h *WebSocketHandler) ServeWs(topic realtime.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade сам отвечает клиенту HTTP-ошибкой.
			h.logger.Warn("websocket upgrade failed",
				slog.String("topic", topic.Name()),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Any("error", err))
			return
		}

		realtime.NewConnection(conn, topic, h.deps).Serve(r.Context())
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		hosts[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Не браузерный клиент.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := hosts[strings.ToLower(origin)]
		return ok
	}
}
