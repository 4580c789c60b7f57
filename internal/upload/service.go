// Package upload implements the write pipeline: key policy, size policy,
// create-only arbitration and the streamed store write.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/moltwallet/upload-gateway/internal/ledger"
	"github.com/moltwallet/upload-gateway/internal/metrics"
	"github.com/moltwallet/upload-gateway/internal/objectkey"
	"github.com/moltwallet/upload-gateway/internal/obs/tracing"
	"github.com/moltwallet/upload-gateway/internal/storage"
)

// DefaultBaseURL is used for returned object URLs when none is configured.
const DefaultBaseURL = "https://cdn.moltwallet.app"

// Observer receives one call per finished upload attempt.
type Observer interface {
	ObserveUpload(outcome, kind string, size int64)
}

// Options configures a Service.
type Options struct {
	// BaseURL prefixes returned object URLs. Defaults to DefaultBaseURL.
	BaseURL string
	// StrictKeyDecoding rejects keys that are not valid percent-encoding
	// instead of using the raw value.
	StrictKeyDecoding bool
	Ledger            ledger.Recorder
	Observer          Observer
}

// Request is one upload as received from a client.
type Request struct {
	RawKey        string    // path segment after /objects/, still percent-encoded
	ContentType   string    // empty when the header is missing
	ContentLength int64     // -1 when not declared
	Overwrite     bool      // ?overwrite=1
	Body          io.Reader // nil when the request has no body
	RequestID     string
}

// Result describes a stored object.
type Result struct {
	Key  string
	ETag string
	URL  string
	Size int64
}

// Service runs the upload pipeline against a store.
type Service struct {
	store    storage.Storage
	ledger   ledger.Recorder
	observer Observer
	baseURL  string
	strict   bool
}

// NewService creates a new upload Service.
func NewService(store storage.Storage, opts Options) *Service {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	rec := opts.Ledger
	if rec == nil {
		rec = ledger.Noop{}
	}
	return &Service{
		store:    store,
		ledger:   rec,
		observer: opts.Observer,
		baseURL:  base,
		strict:   opts.StrictKeyDecoding,
	}
}

// Upload validates req and writes its body to the store. Refusals are
// returned as *Error; any other error is a store failure.
//
// Without Overwrite the object must not exist yet. The store is probed
// first so conflicts are reported before the body is read, and the write
// itself is conditional so two concurrent first writes cannot both succeed.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	key, decodeErr := objectkey.Decode(req.RawKey)
	kind := objectkey.Kind(key)
	if decodeErr != nil {
		if s.strict {
			return nil, s.refuse(kind, badRequest(msgInvalidEncoding))
		}
		log.Warn().Str("raw_key", req.RawKey).Msg("key is not valid percent-encoding; using raw value")
	}

	if err := objectkey.Validate(key); err != nil {
		return nil, s.refuse(kind, badRequest(err.Error()))
	}
	if req.ContentType == "" {
		return nil, s.refuse(kind, badRequest(msgMissingContentType))
	}

	// The limit is exclusive: a body of exactly limit bytes is refused.
	limit := objectkey.MaxBytes(key)
	if req.ContentLength >= limit {
		return nil, s.refuse(kind, tooLarge(limit))
	}

	if !req.Overwrite {
		exists, err := s.exists(ctx, key)
		if err != nil {
			s.observe(metrics.OutcomeFailed, kind, 0)
			return nil, err
		}
		if exists {
			return nil, s.refuse(kind, alreadyExists())
		}
	}

	if req.Body == nil {
		return nil, s.refuse(kind, badRequest(msgMissingBody))
	}

	put, err := s.put(ctx, storage.PutInput{
		Key:          key,
		Body:         newLimitReader(req.Body, limit-1),
		Size:         req.ContentLength,
		ContentType:  req.ContentType,
		CacheControl: objectkey.CacheControl(key),
		IfAbsent:     !req.Overwrite,
	})
	switch {
	case errors.Is(err, errBodyTooLarge):
		return nil, s.refuse(kind, tooLarge(limit))
	case errors.Is(err, storage.ErrExists):
		return nil, s.refuse(kind, alreadyExists())
	case err != nil:
		s.observe(metrics.OutcomeFailed, kind, 0)
		return nil, fmt.Errorf("store %q: %w", key, err)
	}

	// Overwrite writes are not probed, so the outcome reflects the request,
	// not whether a previous object was replaced.
	outcome := metrics.OutcomeCreated
	if req.Overwrite {
		outcome = metrics.OutcomeOverwritten
	}
	s.observe(outcome, kind, put.Size)

	if _, err := s.ledger.Record(ctx, ledger.Entry{
		Key:         key,
		ETag:        put.ETag,
		Size:        put.Size,
		ContentType: req.ContentType,
		Overwrite:   req.Overwrite,
		RequestID:   req.RequestID,
	}); err != nil {
		log.Error().Err(err).Str("key", key).Msg("ledger record failed")
	}

	log.Info().Str("key", key).Str("etag", put.ETag).Int64("size", put.Size).
		Bool("overwrite", req.Overwrite).Msg("object stored")

	return &Result{
		Key:  key,
		ETag: put.ETag,
		URL:  s.publicURL(key),
		Size: put.Size,
	}, nil
}

func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracing.Tracer("storage").Start(ctx, "storage.head")
	defer span.End()
	span.SetAttributes(attribute.String("object.key", key))

	_, err := s.store.Head(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		tracing.RecordError(span, err)
		return false, fmt.Errorf("probe %q: %w", key, err)
	}
}

func (s *Service) put(ctx context.Context, in storage.PutInput) (*storage.PutResult, error) {
	ctx, span := tracing.Tracer("storage").Start(ctx, "storage.put")
	defer span.End()
	span.SetAttributes(
		attribute.String("object.key", in.Key),
		attribute.Int64("object.declared_size", in.Size),
		attribute.Bool("object.if_absent", in.IfAbsent),
	)

	res, err := s.store.Put(ctx, in)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("object.etag", res.ETag))
	return res, nil
}

// publicURL joins the configured base URL and key.
func (s *Service) publicURL(key string) string {
	return s.baseURL + "/" + key
}

func (s *Service) refuse(kind string, e *Error) *Error {
	outcome := metrics.OutcomeRejected
	switch e.Status {
	case http.StatusConflict:
		outcome = metrics.OutcomeConflict
	case http.StatusRequestEntityTooLarge:
		outcome = metrics.OutcomeTooLarge
	}
	s.observe(outcome, kind, 0)
	return e
}

func (s *Service) observe(outcome, kind string, size int64) {
	if s.observer != nil {
		s.observer.ObserveUpload(outcome, kind, size)
	}
}
