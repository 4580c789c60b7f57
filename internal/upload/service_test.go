package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/moltwallet/upload-gateway/internal/ledger"
	"github.com/moltwallet/upload-gateway/internal/objectkey"
	"github.com/moltwallet/upload-gateway/internal/storage"
)

// countingStore wraps a memory store and counts calls. headErr / putErr
// replace the real result when set.
type countingStore struct {
	*storage.MemoryStorage
	mu      sync.Mutex
	heads   int
	puts    int
	sizes   []int64
	headErr error
	putErr  error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStorage: storage.NewMemoryStorage()}
}

func (s *countingStore) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	s.mu.Lock()
	s.heads++
	err := s.headErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStorage.Head(ctx, key)
}

func (s *countingStore) Put(ctx context.Context, in storage.PutInput) (*storage.PutResult, error) {
	s.mu.Lock()
	s.puts++
	s.sizes = append(s.sizes, in.Size)
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStorage.Put(ctx, in)
}

func (s *countingStore) calls() (heads, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads, s.puts
}

type recordedUpload struct {
	outcome, kind string
	size          int64
}

type fakeObserver struct {
	mu   sync.Mutex
	seen []recordedUpload
}

func (o *fakeObserver) ObserveUpload(outcome, kind string, size int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, recordedUpload{outcome, kind, size})
}

func (o *fakeObserver) last() recordedUpload {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.seen) == 0 {
		return recordedUpload{}
	}
	return o.seen[len(o.seen)-1]
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
	err     error
}

func (l *fakeLedger) Record(_ context.Context, e ledger.Entry) (*ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.entries = append(l.entries, e)
	return &e, nil
}

func body(n int) []byte {
	return bytes.Repeat([]byte("a"), n)
}

func pngRequest(key string, b []byte) Request {
	return Request{
		RawKey:        key,
		ContentType:   "image/png",
		ContentLength: int64(len(b)),
		Body:          bytes.NewReader(b),
	}
}

func wantStatus(t *testing.T, err error, status int, message string) {
	t.Helper()
	var rejected *Error
	if !errors.As(err, &rejected) {
		t.Fatalf("expected *Error with status %d, got %v", status, err)
	}
	if rejected.Status != status {
		t.Fatalf("status = %d, want %d (%s)", rejected.Status, status, rejected.Message)
	}
	if message != "" && rejected.Message != message {
		t.Fatalf("message = %q, want %q", rejected.Message, message)
	}
}

func TestUpload_Created(t *testing.T) {
	store := newCountingStore()
	obs := &fakeObserver{}
	led := &fakeLedger{}
	svc := NewService(store, Options{BaseURL: "https://cdn.example.com/", Ledger: led, Observer: obs})

	res, err := svc.Upload(context.Background(), pngRequest("tokens/abc/logo.png", []byte("png-bytes")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Key != "tokens/abc/logo.png" {
		t.Fatalf("key = %q", res.Key)
	}
	if res.URL != "https://cdn.example.com/tokens/abc/logo.png" {
		t.Fatalf("url = %q", res.URL)
	}
	if res.ETag == "" {
		t.Fatal("expected etag")
	}

	obj, ok := store.Object("tokens/abc/logo.png")
	if !ok {
		t.Fatal("object not stored")
	}
	if obj.ContentType != "image/png" || obj.CacheControl != "public, max-age=31536000, immutable" {
		t.Fatalf("metadata = %q / %q", obj.ContentType, obj.CacheControl)
	}
	if got := obs.last(); got.outcome != "created" || got.kind != "png" || got.size != 9 {
		t.Fatalf("observed %+v", got)
	}
	if len(led.entries) != 1 || led.entries[0].Key != res.Key || led.entries[0].Overwrite {
		t.Fatalf("ledger entries = %+v", led.entries)
	}
}

func TestUpload_DefaultBaseURL(t *testing.T) {
	svc := NewService(newCountingStore(), Options{})
	res, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("x")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.URL != DefaultBaseURL+"/tokens/a.png" {
		t.Fatalf("url = %q", res.URL)
	}
}

func TestUpload_NormalizesKey(t *testing.T) {
	svc := NewService(newCountingStore(), Options{})
	res, err := svc.Upload(context.Background(), pngRequest("%2F%2Ftokens%2Fa%20b.png", []byte("x")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Key != "tokens/a b.png" {
		t.Fatalf("key = %q", res.Key)
	}
}

func TestUpload_KeyRejections(t *testing.T) {
	cases := []struct {
		raw, msg string
	}{
		{"images/a.png", "Key must start with tokens/"},
		{"tokens/../a.png", "Key must not contain .."},
		{"tokens/a.gif", "Unsupported file extension"},
		{"tokens/a%2E%2E/b.png", "Key must not contain .."},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			store := newCountingStore()
			svc := NewService(store, Options{})
			_, err := svc.Upload(context.Background(), pngRequest(tc.raw, []byte("x")))
			wantStatus(t, err, http.StatusBadRequest, tc.msg)
			if h, p := store.calls(); h != 0 || p != 0 {
				t.Fatalf("store touched: heads=%d puts=%d", h, p)
			}
		})
	}
}

func TestUpload_InvalidEncoding(t *testing.T) {
	t.Run("lenient", func(t *testing.T) {
		svc := NewService(newCountingStore(), Options{})
		res, err := svc.Upload(context.Background(), pngRequest("tokens/100%.png", []byte("x")))
		if err != nil {
			t.Fatalf("upload: %v", err)
		}
		if res.Key != "tokens/100%.png" {
			t.Fatalf("key = %q", res.Key)
		}
	})
	t.Run("strict", func(t *testing.T) {
		store := newCountingStore()
		svc := NewService(store, Options{StrictKeyDecoding: true})
		_, err := svc.Upload(context.Background(), pngRequest("tokens/100%.png", []byte("x")))
		wantStatus(t, err, http.StatusBadRequest, "Invalid key encoding")
		if h, p := store.calls(); h != 0 || p != 0 {
			t.Fatalf("store touched: heads=%d puts=%d", h, p)
		}
	})
}

func TestUpload_MissingContentType(t *testing.T) {
	svc := NewService(newCountingStore(), Options{})
	req := pngRequest("tokens/a.png", []byte("x"))
	req.ContentType = ""
	_, err := svc.Upload(context.Background(), req)
	wantStatus(t, err, http.StatusBadRequest, "Missing Content-Type header")
}

func TestUpload_MissingBody(t *testing.T) {
	store := newCountingStore()
	svc := NewService(store, Options{})
	_, err := svc.Upload(context.Background(), Request{
		RawKey:        "tokens/a.png",
		ContentType:   "image/png",
		ContentLength: -1,
	})
	wantStatus(t, err, http.StatusBadRequest, "Missing request body")
	if _, p := store.calls(); p != 0 {
		t.Fatalf("puts = %d", p)
	}
}

func TestUpload_SizeBoundaries(t *testing.T) {
	cases := []struct {
		key  string
		size int
		ok   bool
	}{
		{"tokens/meta.json", int(objectkey.MaxJSONBytes) - 1, true},
		{"tokens/meta.json", int(objectkey.MaxJSONBytes), false},
		{"tokens/meta.json", int(objectkey.MaxJSONBytes) + 1, false},
		{"tokens/logo.png", int(objectkey.MaxImageBytes) - 1, true},
		{"tokens/logo.png", int(objectkey.MaxImageBytes), false},
		{"tokens/logo.png", int(objectkey.MaxImageBytes) + 1, false},
	}
	for _, tc := range cases {
		// Declared length and streamed length are checked separately.
		for _, declared := range []bool{true, false} {
			store := newCountingStore()
			svc := NewService(store, Options{})
			req := Request{
				RawKey:        tc.key,
				ContentType:   "application/octet-stream",
				ContentLength: -1,
				Body:          bytes.NewReader(body(tc.size)),
			}
			if declared {
				req.ContentLength = int64(tc.size)
			}
			_, err := svc.Upload(context.Background(), req)
			if tc.ok {
				if err != nil {
					t.Fatalf("%s size=%d declared=%v: %v", tc.key, tc.size, declared, err)
				}
				continue
			}
			limit := objectkey.MaxBytes(tc.key)
			wantStatus(t, err, http.StatusRequestEntityTooLarge, "File too large (max "+strconv.FormatInt(limit, 10)+" bytes)")
			if _, ok := store.Object(tc.key); ok {
				t.Fatalf("%s size=%d declared=%v: oversized object stored", tc.key, tc.size, declared)
			}
			if declared {
				if h, p := store.calls(); h != 0 || p != 0 {
					t.Fatalf("declared oversize touched store: heads=%d puts=%d", h, p)
				}
			}
		}
	}
}

func TestUpload_CreateOnly(t *testing.T) {
	store := newCountingStore()
	obs := &fakeObserver{}
	svc := NewService(store, Options{Observer: obs})

	if _, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("first"))); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	_, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("second")))
	wantStatus(t, err, http.StatusConflict, "Object already exists (use ?overwrite=1 to overwrite)")
	if got := obs.last().outcome; got != "conflict" {
		t.Fatalf("outcome = %q", got)
	}

	obj, _ := store.Object("tokens/a.png")
	if string(obj.Data) != "first" {
		t.Fatalf("object replaced: %q", obj.Data)
	}
	// The conflict is found by the probe, before the body is written.
	if _, p := store.calls(); p != 1 {
		t.Fatalf("puts = %d, want 1", p)
	}
}

func TestUpload_Overwrite(t *testing.T) {
	store := newCountingStore()
	led := &fakeLedger{}
	svc := NewService(store, Options{Ledger: led})

	for i, payload := range []string{"one", "two"} {
		req := pngRequest("tokens/a.png", []byte(payload))
		req.Overwrite = true
		if _, err := svc.Upload(context.Background(), req); err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
	}
	obj, _ := store.Object("tokens/a.png")
	if string(obj.Data) != "two" {
		t.Fatalf("data = %q", obj.Data)
	}
	if h, _ := store.calls(); h != 0 {
		t.Fatalf("overwrite should not probe, heads = %d", h)
	}
	if len(led.entries) != 2 || !led.entries[1].Overwrite {
		t.Fatalf("ledger = %+v", led.entries)
	}
}

// A create that loses the race after the probe still gets a conflict.
func TestUpload_ConditionalWriteConflict(t *testing.T) {
	store := newCountingStore()
	store.putErr = storage.ErrExists
	svc := NewService(store, Options{})
	_, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("x")))
	wantStatus(t, err, http.StatusConflict, "")
}

func TestUpload_ConcurrentCreates(t *testing.T) {
	svc := NewService(newCountingStore(), Options{})

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Upload(context.Background(), pngRequest("tokens/race.png", []byte("x")))
			mu.Lock()
			defer mu.Unlock()
			var rejected *Error
			switch {
			case err == nil:
				ok++
			case errors.As(err, &rejected) && rejected.Status == http.StatusConflict:
				clash++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || clash != writers-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, clash)
	}
}

func TestUpload_StoreFailures(t *testing.T) {
	boom := errors.New("connection reset")

	t.Run("head", func(t *testing.T) {
		store := newCountingStore()
		store.headErr = boom
		svc := NewService(store, Options{})
		_, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("x")))
		var rejected *Error
		if err == nil || errors.As(err, &rejected) || !errors.Is(err, boom) {
			t.Fatalf("expected wrapped store error, got %v", err)
		}
	})
	t.Run("put", func(t *testing.T) {
		store := newCountingStore()
		store.putErr = boom
		obs := &fakeObserver{}
		svc := NewService(store, Options{Observer: obs})
		_, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("x")))
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped store error, got %v", err)
		}
		if got := obs.last().outcome; got != "failed" {
			t.Fatalf("outcome = %q", got)
		}
	})
}

func TestUpload_LedgerFailureIgnored(t *testing.T) {
	svc := NewService(newCountingStore(), Options{Ledger: &fakeLedger{err: errors.New("db down")}})
	if _, err := svc.Upload(context.Background(), pngRequest("tokens/a.png", []byte("x"))); err != nil {
		t.Fatalf("ledger failure surfaced: %v", err)
	}
}

func TestLimitReader(t *testing.T) {
	got, err := io.ReadAll(newLimitReader(strings.NewReader("12345"), 5))
	if err != nil || string(got) != "12345" {
		t.Fatalf("at limit: %q, %v", got, err)
	}

	got, err = io.ReadAll(newLimitReader(strings.NewReader("123456"), 5))
	if !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("over limit: err = %v", err)
	}
	if len(got) > 5 {
		t.Fatalf("over limit: passed %d bytes", len(got))
	}

	got, err = io.ReadAll(newLimitReader(strings.NewReader(""), 0))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty: %q, %v", got, err)
	}
}

func TestUpload_PassesDeclaredSize(t *testing.T) {
	store := newCountingStore()
	svc := NewService(store, Options{})

	if _, err := svc.Upload(context.Background(), pngRequest("tokens/known.png", []byte("abc"))); err != nil {
		t.Fatalf("declared: %v", err)
	}
	unknown := pngRequest("tokens/unknown.png", []byte("abc"))
	unknown.ContentLength = -1
	if _, err := svc.Upload(context.Background(), unknown); err != nil {
		t.Fatalf("undeclared: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.sizes) != 2 || store.sizes[0] != 3 || store.sizes[1] != -1 {
		t.Fatalf("sizes passed to store = %v, want [3 -1]", store.sizes)
	}
}

// Overwrite requests are counted as such even when nothing was replaced.
func TestUpload_OverwriteOutcomeOnAbsentKey(t *testing.T) {
	obs := &fakeObserver{}
	svc := NewService(newCountingStore(), Options{Observer: obs})
	req := pngRequest("tokens/fresh.png", []byte("x"))
	req.Overwrite = true
	if _, err := svc.Upload(context.Background(), req); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if got := obs.last(); got.outcome != "overwritten" || got.size != 1 {
		t.Fatalf("observed %+v", got)
	}
}
