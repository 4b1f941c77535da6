package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "outbound-pool/docs"
	"outbound-pool/internal/handlers"
	"outbound-pool/internal/middleware"
)

// SetupRoutes configures the admin routes
func SetupRoutes(router *mux.Router, h *handlers.Handlers, metrics http.Handler, logMiddleware mux.MiddlewareFunc) {
	router.Use(logMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	router.HandleFunc("/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/stats/reset", h.ResetStats).Methods("POST")

	router.HandleFunc("/circuits", h.GetCircuits).Methods("GET")
	router.HandleFunc("/circuits", h.RemoveCircuit).Methods("DELETE")
	router.HandleFunc("/circuits/reset", h.ResetCircuits).Methods("POST")

	router.Handle("/metrics", metrics).Methods("GET")

	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)
}

// Handler builds the admin HTTP handler
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Pool, app.Pool.Circuits(), app.Logger)
	metrics := promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry})

	router := mux.NewRouter()
	SetupRoutes(router, h, metrics, middleware.Logging(app.Logger))
	return router
}
