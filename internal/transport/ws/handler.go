package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// ServeFunc serves one upgraded connection and returns when it is finished.
type ServeFunc func(ctx context.Context, conn *Conn)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	base     context.Context
	serve    ServeFunc
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler builds a Handler. Connections are served with a context derived from
// base, so cancelling base tears down every hijacked connection.
func NewHandler(base context.Context, serve ServeFunc, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		base:  base,
		serve: serve,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// producers are mobile apps and dashboards are served from anywhere
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "ws"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := Wrap(raw, h.opts)
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.base)
	defer cancel()

	h.logger.Debug("websocket connected", "remote", r.RemoteAddr)
	h.serve(ctx, conn)
}
