// Package server assembles the gateway's public HTTP surface.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/moltwallet/upload-gateway/internal/metrics"
	appMiddleware "github.com/moltwallet/upload-gateway/internal/middleware"
	"github.com/moltwallet/upload-gateway/internal/obs/tracing"
	"github.com/moltwallet/upload-gateway/internal/response"
	"github.com/moltwallet/upload-gateway/internal/upload"
)

// Deps is everything the router needs. Nothing is read from globals, so
// several differently configured routers can live in one process.
type Deps struct {
	Uploads     *upload.Handler
	UploadToken string
	// Metrics is optional; request metrics are skipped when nil.
	Metrics    *metrics.Metrics
	CORSMaxAge int
	Swagger    bool
}

// NewRouter returns the gateway's HTTP handler.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(appMiddleware.Recover)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(tracing.Middleware)
	r.Use(appMiddleware.Preflight(d.CORSMaxAge))
	r.Use(appMiddleware.CORS)

	// Unrouted methods and paths share one dispatch: preflight, the delete
	// policy, then 404.
	r.NotFound(fallback)
	r.MethodNotAllowed(fallback)

	r.Get("/health", health)

	r.With(appMiddleware.RequireUploadToken(d.UploadToken)).
		Put(upload.ObjectsPrefix+"*", d.Uploads.Put)

	if d.Swagger {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
	}

	return r
}

// health godoc
//
//	@Summary	Liveness probe
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	response.Envelope
//	@Router		/health [get]
func health(w http.ResponseWriter, _ *http.Request) {
	response.OK(w)
}

func fallback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		response.MethodNotAllowed(w, "Delete not supported")
	default:
		response.NotFound(w)
	}
}
