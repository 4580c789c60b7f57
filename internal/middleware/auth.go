package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/moltwallet/upload-gateway/internal/response"
)

// UploadTokenHeader carries the shared upload secret.
const UploadTokenHeader = "X-Upload-Token"

// RequireUploadToken returns middleware that rejects requests whose
// X-Upload-Token does not exactly match secret. An empty secret disables the
// check: open write access is a supported deployment mode.
func RequireUploadToken(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		want := []byte(secret)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(UploadTokenHeader))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				log.Warn().Str("path", r.URL.Path).Bool("token_present", len(got) > 0).Msg("upload rejected: bad token")
				response.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
