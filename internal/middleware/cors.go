package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

const (
	corsAllowOrigin  = "*"
	corsAllowMethods = "GET,HEAD,PUT,OPTIONS"
	corsAllowHeaders = "content-type,content-length,x-upload-token"
)

// CORS stamps the gateway's fixed CORS headers on every response, whether or
// not the request carried an Origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORSHeaders(w.Header())
		next.ServeHTTP(w, r)
	})
}

// SetCORSHeaders writes the fixed CORS headers into h.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", corsAllowOrigin)
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

// Preflight answers browser preflights (Vary, Max-Age) and passes every
// request on, so the router still produces the 204 and the fixed headers.
func Preflight(maxAge int) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Content-Length", "X-Upload-Token"},
		MaxAge:             maxAge,
		OptionsPassthrough: true,
	})
}
