// Package objectkey normalizes and validates the store keys accepted by the
// upload gateway, and derives the per-kind size and cache policies.
package objectkey

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Prefix is the namespace every accepted key lives under.
const Prefix = "tokens/"

const (
	// MaxJSONBytes is the exclusive size limit for metadata documents.
	MaxJSONBytes int64 = 64 * 1024
	// MaxImageBytes is the exclusive size limit for every other allowed kind.
	MaxImageBytes int64 = 2 * 1024 * 1024
)

const (
	cacheControlJSON  = "public, max-age=300"
	cacheControlImage = "public, max-age=31536000, immutable"
)

var allowedExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".json"}

// Validation failures, in the order Validate checks them.
var (
	ErrPrefix    = errors.New("Key must start with " + Prefix)
	ErrTraversal = errors.New("Key must not contain ..")
	ErrExtension = errors.New("Unsupported file extension")
)

// errInvalidUTF8 marks escapes that are well-formed but decode to bytes
// that are not UTF-8, such as %FF.
var errInvalidUTF8 = errors.New("decoded key is not valid UTF-8")

// Decode percent-decodes raw and strips leading slashes. The returned error
// is non-nil when raw is not a valid escape sequence or decodes to invalid
// UTF-8; the key is then built from the undecoded value.
func Decode(raw string) (string, error) {
	key, err := url.PathUnescape(raw)
	if err == nil && !utf8.ValidString(key) {
		err = fmt.Errorf("unescape %q: %w", raw, errInvalidUTF8)
	}
	if err != nil {
		key = raw
	}
	return strings.TrimLeft(key, "/"), err
}

// Normalize is Decode with decode failures ignored.
func Normalize(raw string) string {
	key, _ := Decode(raw)
	return key
}

// Validate reports the first policy violation of a normalized key, or nil.
func Validate(key string) error {
	if !strings.HasPrefix(key, Prefix) {
		return ErrPrefix
	}
	if strings.Contains(key, "..") {
		return ErrTraversal
	}
	lower := strings.ToLower(key)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return nil
		}
	}
	return ErrExtension
}

// IsJSON reports whether key names a metadata document.
func IsJSON(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".json")
}

// MaxBytes returns the size limit for key. Accepted bodies are strictly
// smaller.
func MaxBytes(key string) int64 {
	if IsJSON(key) {
		return MaxJSONBytes
	}
	return MaxImageBytes
}

// CacheControl returns the Cache-Control value stored with key. Images are
// immutable once published; metadata is allowed to refresh.
func CacheControl(key string) string {
	if IsJSON(key) {
		return cacheControlJSON
	}
	return cacheControlImage
}

// Kind is a short label for key's file type, used in logs and metrics.
// Anything outside the allow-list is "unknown" so labels stay bounded.
func Kind(key string) string {
	lower := strings.ToLower(key)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return ext[1:]
		}
	}
	return "unknown"
}
