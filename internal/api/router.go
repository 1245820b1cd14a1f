package api

import (
	"net/http"
	"time"

	"frizo/position_engine/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the handler, the websocket hub and the Prometheus
// endpoint. hub may be nil, in which case /api/v1/ws is not served.
func NewRouter(h *Handler, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/health", h.Health)
	r.Get("/version", h.Version)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/users", h.CreateUser)
			r.Get("/users", h.ListUsers)
			r.Get("/users/{owner}", h.GetUser)
			r.Get("/users/{owner}/pnl", h.GetUserPnL)
			r.Post("/users/{owner}/deposit", h.Deposit)
			r.Post("/users/{owner}/withdraw", h.Withdraw)

			r.Post("/positions", h.OpenPosition)
			r.Get("/positions", h.ListPositions)
			r.Get("/positions/{id}", h.GetPosition)
			r.Post("/positions/{id}/modify", h.ModifyPosition)
			r.Post("/positions/{id}/close", h.ClosePosition)
			r.Post("/positions/{id}/liquidate", h.LiquidatePosition)

			r.Post("/marks", h.UpdateMarks)
			r.Get("/metrics", h.Metrics)
			r.Get("/tiers", h.Tiers)
		})
	})
	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
