package route

import (
	"net/http"

	"roadscan/internal/handler"
	"roadscan/internal/logger"
	"roadscan/internal/metrics"
	"roadscan/internal/middleware"
	"roadscan/internal/service/websocket"
)

// SetupRoutes registers the preview websocket next to the operational
// endpoints and wraps the mux with the token middleware.
func SetupRoutes(hub *websocket.HubService, token string, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(hub, logger))
	registerOperational(mux)

	return middleware.AuthMiddleware(token, mux)
}

// SetupMetricsRoutes serves only /metrics and /healthz, unauthenticated,
// for a dedicated scrape address.
func SetupMetricsRoutes() http.Handler {
	mux := http.NewServeMux()
	registerOperational(mux)
	return mux
}

func registerOperational(mux *http.ServeMux) {
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}
