package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var middlewareNow = time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)

func newOrderRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/me/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresKey(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return middlewareNow }))

	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler ran without an idempotency key")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest(`{"productId":"p1"}`, ""))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_key_required" {
		t.Errorf("error = %q, want idempotency_key_required", code)
	}
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return middlewareNow }))

	calls := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord-1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(`{"productId":"p1"}`, "key-1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, newOrderRequest(`{"productId":"p1"}`, "key-1"))

	if calls != 1 {
		t.Fatalf("handler calls after replay = %d, want 1", calls)
	}
	if replay.Code != http.StatusCreated {
		t.Errorf("replayed status = %d, want 201", replay.Code)
	}
	if replay.Header().Get(replayHeaderName) != "true" {
		t.Error("replay header missing")
	}
	if got := replay.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}
	if replay.Body.String() != first.Body.String() {
		t.Errorf("replayed body = %q, want %q", replay.Body.String(), first.Body.String())
	}
}

func TestMiddlewareFingerprintConflict(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return middlewareNow }))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newOrderRequest(`{"productId":"p1"}`, "key-1"))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	reused := httptest.NewRecorder()
	handler.ServeHTTP(reused, newOrderRequest(`{"productId":"p2"}`, "key-1"))

	if reused.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for reused key", reused.Code)
	}
	if code := errorCode(t, reused.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Errorf("error = %q, want idempotency_key_conflict", code)
	}
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	mw := Middleware(store, WithClock(func() time.Time { return middlewareNow }))
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler ran while the key was pending")
	}))

	req := newOrderRequest(`{"productId":"p1"}`, "key-1")
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	identity := extractRequester(req.Context())
	scoped := scopedKey("key-1", identity)
	if _, err := store.Reserve(req.Context(), scoped, requestFingerprint(req, body, identity), middlewareNow, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 while pending", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_in_progress" {
		t.Errorf("error = %q, want idempotency_in_progress", code)
	}
}

func TestMiddlewareReleasesKeyOnSaveFailure(t *testing.T) {
	store := &stubStore{failSave: true}
	mw := Middleware(store, WithClock(func() time.Time { return middlewareNow }))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newOrderRequest(`{"productId":"p1"}`, "key-1"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_store_error" {
		t.Errorf("error = %q, want idempotency_store_error", code)
	}
	if !store.released {
		t.Error("reservation was not released after the save failure")
	}
}

func TestMemoryStoreExpiresRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "key-1", "fp", middlewareNow, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, middlewareNow.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	res, err := store.Reserve(ctx, "key-1", "other-fp", middlewareNow.Add(3*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("reserve after cleanup: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("state = %v, want new reservation after expiry", res.State)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
