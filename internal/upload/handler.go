package upload

import (
	"errors"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/moltwallet/upload-gateway/internal/response"
)

// ObjectsPrefix is the route prefix in front of object keys.
const ObjectsPrefix = "/objects/"

// Handler holds the HTTP handler for the upload endpoint.
type Handler struct {
	svc *Service
}

// NewHandler creates a new upload Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Put godoc
//
//	@Summary		Upload an object
//	@Description	Stores the request body under tokens/<key>. Without overwrite=1 an existing object is never replaced.
//	@Tags			objects
//	@Accept			png,jpeg,json
//	@Accept			image/webp
//	@Produce		json
//	@Security		UploadToken
//	@Param			key				path		string	true	"Object key, e.g. tokens/abc/logo.png"
//	@Param			overwrite		query		string	false	"Set to 1 to replace an existing object"
//	@Param			Content-Type	header		string	true	"Media type stored with the object"
//	@Success		200				{object}	response.Upload
//	@Failure		400				{object}	response.Envelope
//	@Failure		401				{object}	response.Envelope
//	@Failure		409				{object}	response.Envelope
//	@Failure		413				{object}	response.Envelope
//	@Failure		500				{object}	response.Envelope
//	@Router			/objects/{key} [put]
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	req := Request{
		// The escaped path keeps %2F and friends intact for Decode.
		RawKey:        strings.TrimPrefix(r.URL.EscapedPath(), ObjectsPrefix),
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
		Overwrite:     r.URL.Query().Get("overwrite") == "1",
		RequestID:     chimw.GetReqID(r.Context()),
	}
	// A declared zero length counts as no body, as net/http does for
	// server requests.
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		req.Body = r.Body
	}

	res, err := h.svc.Upload(r.Context(), req)
	if err != nil {
		var rejected *Error
		if errors.As(err, &rejected) {
			response.Error(w, rejected.Status, rejected.Message)
			return
		}
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("upload failed")
		response.InternalError(w)
		return
	}

	response.JSON(w, http.StatusOK, response.Upload{
		OK:   true,
		Key:  res.Key,
		ETag: res.ETag,
		URL:  res.URL,
	})
}
