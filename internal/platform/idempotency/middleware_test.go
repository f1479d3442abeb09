package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanko-field/variants/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/admin/products/prod_1/variant-generation", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func withAdmin(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload.Error
}

func TestMiddleware_MissingHeader(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`))

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "idempotency_key_required", decodeErrorCode(t, rr.Body.Bytes()))
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"variants":[]}`))
		}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, withAdmin(newRequest("abc-123", `{"variants":[]}`), "admin-1"))
	require.Equal(t, http.StatusCreated, rr1.Code)
	assert.Empty(t, rr1.Header().Get(ReplayHeader))

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, withAdmin(newRequest("abc-123", `{"variants":[]}`), "admin-1"))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, rr2.Code)
	assert.Equal(t, "true", rr2.Header().Get(ReplayHeader))
	assert.Equal(t, "application/json", rr2.Header().Get("Content-Type"))
	assert.Equal(t, rr1.Body.String(), rr2.Body.String())
}

func TestMiddleware_KeysAreScopedPerActor(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), withAdmin(newRequest("shared", `{}`), "admin-1"))
	handler.ServeHTTP(httptest.NewRecorder(), withAdmin(newRequest("shared", `{}`), "admin-2"))

	assert.Equal(t, 2, calls)
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest("same-key", `{"a":1}`))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest("same-key", `{"a":2}`))
	assert.Equal(t, http.StatusConflict, rr2.Code)
	assert.Equal(t, "idempotency_key_conflict", decodeErrorCode(t, rr2.Body.Bytes()))
}

func TestMiddleware_PendingReservationReturnsInProgress(t *testing.T) {
	store := NewMemoryStore()
	req := newRequest("busy", `{}`)
	body := []byte(`{}`)
	_, err := store.Reserve(context.Background(), "busy|anonymous", fingerprintRequest(req, body, "anonymous"), fixedTime, time.Hour)
	require.NoError(t, err)

	called := false
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "idempotency_in_progress", decodeErrorCode(t, rr.Body.Bytes()))
}

func TestMiddleware_ServerErrorsReleaseKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newRequest("retry-me", `{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newRequest("retry-me", `{}`))
	assert.Equal(t, http.StatusCreated, rr2.Code)
	assert.Equal(t, 2, calls)
}

func TestMiddleware_HandlerSeesOriginalBody(t *testing.T) {
	var seen string
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seen = buf.String()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("body", `{"variants":[{"draft_id":"red-s"}]}`))
	assert.Equal(t, `{"variants":[{"draft_id":"red-s"}]}`, seen)
}

func TestMemoryStore_ExpiryAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	res, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)

	require.NoError(t, store.SaveResponse(ctx, "k1", "fp", Response{Status: http.StatusOK, Headers: http.Header{"Content-Length": {"2"}, "X-Test": {"1"}}}, fixedTime, time.Minute))
	res, err = store.Reserve(ctx, "k1", "fp", fixedTime.Add(30*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, res.State)
	assert.NotContains(t, res.Record.ResponseHeaders, "Content-Length")
	assert.Contains(t, res.Record.ResponseHeaders, "X-Test")

	res, err = store.Reserve(ctx, "k1", "other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State, "expired records are replaced")

	_, err = store.Reserve(ctx, "k2", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(90*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
