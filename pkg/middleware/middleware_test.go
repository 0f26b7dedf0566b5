package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"swimbook/pkg/logger"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard, Level: logger.ERROR})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestLogging_AssignsRequestID(t *testing.T) {
	var seen string
	h := RequestLogging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))

	if seen == "" {
		t.Fatal("expected request id in context")
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestRequestLogging_ReusesCallerRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		reused   bool
	}{
		{"well formed", "abc-123_DEF", true},
		{"empty", "", false},
		{"illegal characters", "abc 123<script>", false},
		{"too long", strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestLogging(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.incoming)
			h.ServeHTTP(httptest.NewRecorder(), req)

			if (seen == tt.incoming) != tt.reused {
				t.Errorf("request id = %q, reused = %v, want reused = %v", seen, seen == tt.incoming, tt.reused)
			}
		})
	}
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty id, got %q", got)
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INTERNAL_ERROR") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestContentTypeValidation(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantStatus  int
	}{
		{"json post", http.MethodPost, `{}`, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"text post", http.MethodPost, `{}`, "text/plain", http.StatusUnsupportedMediaType},
		{"missing header", http.MethodPatch, `{}`, "", http.StatusUnsupportedMediaType},
		{"body-less command", http.MethodPost, "", "", http.StatusOK},
		{"get ignored", http.MethodGet, "", "text/html", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ContentTypeValidation(testLogger())(okHandler())

			var body io.Reader = http.NoBody
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, "/api/v1/bookings", body)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestContentTypeValidation_UnknownLength(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty chunked command", "", http.StatusOK},
		{"chunked json without header", `{"status":"cancelled"}`, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := ContentTypeValidation(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				got = string(b)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPatch, "/api/v1/bookings/id/b1/cancel", nil)
			req.Body = io.NopCloser(strings.NewReader(tt.body))
			req.ContentLength = -1

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Code == http.StatusOK && got != tt.body {
				t.Errorf("handler read %q, want %q", got, tt.body)
			}
		})
	}
}

func TestContentTypeValidation_PeekKeepsBody(t *testing.T) {
	var got string
	h := ContentTypeValidation(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", nil)
	req.Body = io.NopCloser(strings.NewReader(`{"num_spots":2}`))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != `{"num_spots":2}` {
		t.Errorf("handler read %q", got)
	}
}

func TestMaxRequestSize(t *testing.T) {
	h := MaxRequestSize(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
	if rec.Code != http.StatusOK {
		t.Errorf("small body status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"notes":"far too long"}`)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body status = %d", rec.Code)
	}
}

func TestMemberRateLimiter_Allow(t *testing.T) {
	limiter := NewMemberRateLimiter(2, time.Minute, nil, testLogger())
	defer limiter.Stop()

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("member:a") || !limiter.Allow("member:a") {
		t.Fatal("first two requests should pass")
	}
	if limiter.Allow("member:a") {
		t.Error("third request inside the window should be rejected")
	}
	if !limiter.Allow("member:b") {
		t.Error("other members are limited independently")
	}
	if !limiter.Allow("") {
		t.Error("empty key is never limited")
	}

	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("member:a") {
		t.Error("request after the window should pass")
	}
}

func TestMemberRateLimit_Middleware(t *testing.T) {
	limiter := NewMemberRateLimiter(1, time.Minute, nil, testLogger())
	defer limiter.Stop()
	h := MemberRateLimit(limiter)(okHandler())

	send := func(member string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req.Header.Set(MemberIDHeader, member)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("665f1c2a9b1e4a0012345678"); got != http.StatusOK {
		t.Fatalf("first status = %d", got)
	}
	if got := send("665f1c2a9b1e4a0012345678"); got != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", got)
	}
	if got := send("665f1c2a9b1e4a0087654321"); got != http.StatusOK {
		t.Errorf("other member status = %d", got)
	}
}

func TestDefaultMemberExtractor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	if got := DefaultMemberExtractor(req); got != "addr:10.0.0.7" {
		t.Errorf("got %q", got)
	}

	req.Header.Set(MemberIDHeader, "m1")
	if got := DefaultMemberExtractor(req); got != "member:m1" {
		t.Errorf("got %q", got)
	}
}

func TestIdempotency_ReplaysSuccessfulResponse(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	var calls atomic.Int32
	h := Idempotency(store, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"b1"}}`))
	}))

	send := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("/api/v1/bookings", "k1")
	second := send("/api/v1/bookings", "k1")

	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay marker header")
	}

	send("/api/v1/sessions", "k1")
	if calls.Load() != 2 {
		t.Errorf("same key on another path must not replay, calls = %d", calls.Load())
	}
}

func TestIdempotency_DoesNotCacheFailures(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Hour)
	defer store.Stop()

	var calls atomic.Int32
	h := Idempotency(store, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "k2")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
}

func TestInMemoryIdempotencyStore_Expiry(t *testing.T) {
	store := NewInMemoryIdempotencyStore(time.Millisecond)
	defer store.Stop()

	store.Set(context.Background(), "k", &CachedResponse{StatusCode: 200})
	time.Sleep(5 * time.Millisecond)

	if _, ok := store.Get(context.Background(), "k"); ok {
		t.Error("expected entry to expire")
	}
}

func TestRedisIdempotencyStore_UnavailableIsCacheMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	store := NewRedisIdempotencyStore(rdb, time.Minute, testLogger())
	store.Set(context.Background(), "k", &CachedResponse{StatusCode: 201})

	if _, ok := store.Get(context.Background(), "k"); ok {
		t.Error("expected cache miss when redis is unreachable")
	}
}

func TestRequestTimeout(t *testing.T) {
	h := RequestTimeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestTimeout_FastHandler(t *testing.T) {
	h := RequestTimeout(time.Second)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
