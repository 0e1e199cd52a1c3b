package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dochub/api/internal/auth"
	"dochub/api/internal/idempotency"
	"dochub/api/internal/rbac"
	"dochub/api/internal/search"
	"dochub/api/internal/store"
)

const testSecret = "test-secret"

var carol = Actor{ID: "user-carol", Username: "carol"}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type harness struct {
	t       *testing.T
	svc     *Service
	handler http.Handler
}

func newHarness(t *testing.T, ds DataStore, configure func(*HTTPOptions)) *harness {
	t.Helper()
	if ds == nil {
		ds = store.NewMemoryStore()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(ds, Options{Logger: logger, Now: tickingClock(), StoreTimeout: time.Second})
	opts := HTTPOptions{
		CORSOrigin: "*",
		Tokens:     auth.NewVerifier(testSecret),
		Logger:     logger,
	}
	if configure != nil {
		configure(&opts)
	}
	return &harness{t: t, svc: svc, handler: NewHTTPServer(svc, opts).Handler()}
}

func (h *harness) token(actor Actor, role rbac.Role) string {
	h.t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Identity{ID: actor.ID, Username: actor.Username, Role: string(role)}, time.Hour)
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

// seedHTTPDocument creates a document through the API as bob.
func (h *harness) seedHTTPDocument(content string) map[string]any {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/api/repos/repo-1/docs", h.token(bob, rbac.RoleEditor), map[string]any{
		"title":          "Getting Started",
		"initialContent": content,
	})
	require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeJSON(h.t, rr)["document"].(map[string]any)
}

func (h *harness) proposeHTTP(documentID string, author Actor, role rbac.Role, content string) map[string]any {
	h.t.Helper()
	rr := h.do(http.MethodPost, "/api/repos/repo-1/durs", h.token(author, role), map[string]any{
		"documentId":      documentID,
		"title":           "Add world",
		"proposedContent": content,
	})
	require.Equal(h.t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeJSON(h.t, rr)["dur"].(map[string]any)
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil, nil)

	rr := h.do(http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["ok"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = h.do(http.MethodGet, "/api/health", "", nil, "X-Request-ID", "req-123")
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))
}

func TestReadyEndpointReportsChecks(t *testing.T) {
	h := newHarness(t, nil, func(o *HTTPOptions) {
		o.Readiness = []ReadinessCheck{{Name: "redis", Check: func(context.Context) error { return context.DeadlineExceeded }}}
	})

	rr := h.do(http.MethodGet, "/api/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"].(map[string]any)["status"])
	assert.Equal(t, "error", checks["redis"].(map[string]any)["status"])
}

func TestRequiresBearerToken(t *testing.T) {
	h := newHarness(t, nil, nil)

	rr := h.do(http.MethodGet, "/api/repos/repo-1/docs", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeJSON(t, rr)["code"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	expired, err := auth.IssueToken([]byte(testSecret), auth.Identity{ID: "u", Username: "u"}, -time.Minute)
	require.NoError(t, err)
	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs", expired, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Token expired", decodeJSON(t, rr)["error"])
}

func TestDURLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	docID := doc["id"].(string)
	assert.Equal(t, "getting-started", doc["slug"])

	dur := h.proposeHTTP(docID, alice, rbac.RoleViewer, "Hello\nWorld")
	durID := dur["id"].(string)
	assert.Equal(t, "open", dur["status"])
	assert.Equal(t, false, dur["stale"])
	assert.Equal(t, "alice", dur["creator"].(map[string]any)["username"])
	assert.Equal(t, "getting-started", dur["document"].(map[string]any)["slug"])
	assert.Nil(t, dur["reviewer"])

	// Viewers may propose but not review.
	rr := h.do(http.MethodPost, "/api/repos/repo-1/durs/"+durID+"/approve", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "PERMISSION_DENIED", decodeJSON(t, rr)["code"])

	rr = h.do(http.MethodPost, "/api/repos/repo-1/durs/"+durID+"/approve", h.token(carol, rbac.RoleEditor), map[string]any{"comment": "lgtm"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	merged := decodeJSON(t, rr)["dur"].(map[string]any)
	assert.Equal(t, "merged", merged["status"])
	assert.EqualValues(t, 2, merged["mergedVersion"])
	assert.Equal(t, "carol", merged["reviewer"].(map[string]any)["username"])
	assert.Equal(t, "lgtm", merged["reviewComment"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hello\nWorld", decodeJSON(t, rr)["document"].(map[string]any)["currentContent"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started/versions", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	versions := decodeJSON(t, rr)["versions"].([]any)
	require.Len(t, versions, 2)
	second := versions[1].(map[string]any)
	assert.EqualValues(t, 2, second["versionNumber"])
	assert.Equal(t, "Merged DUR: Add world", second["commitMessage"])
	assert.Nil(t, second["content"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started/versions/1", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hello", decodeJSON(t, rr)["version"].(map[string]any)["content"])

	rr = h.do(http.MethodPost, "/api/repos/repo-1/durs/"+durID+"/reject", h.token(carol, rbac.RoleEditor), nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "INVALID_STATE", decodeJSON(t, rr)["code"])
}

func TestSelfReviewIsForbiddenOverHTTP(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), bob, rbac.RoleEditor, "Hello\nWorld")

	rr := h.do(http.MethodPost, "/api/repos/repo-1/durs/"+dur["id"].(string)+"/approve", h.token(bob, rbac.RoleEditor), nil)
	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "PERMISSION_DENIED", body["code"])
	assert.Equal(t, "Authors cannot review their own DUR", body["error"])
}

func TestDURDiffFormats(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	path := "/api/repos/repo-1/durs/" + dur["id"].(string) + "/diff"
	token := h.token(alice, rbac.RoleViewer)

	rr := h.do(http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "positional", body["mode"])
	lines := body["lines"].([]any)
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]any{"kind": "same", "text": "Hello"}, lines[0])
	assert.Equal(t, map[string]any{"kind": "added", "text": "World"}, lines[1])

	rr = h.do(http.MethodGet, path+"?format=unified", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/x-diff")
	assert.Contains(t, rr.Body.String(), "+World")

	rr = h.do(http.MethodGet, path+"?mode=fancy", token, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeJSON(t, rr)["code"])
}

func TestCompareVersionsValidation(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.seedHTTPDocument("Hello")
	token := h.token(alice, rbac.RoleViewer)

	rr := h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started/compare?to=1", token, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	details := decodeJSON(t, rr)["details"].(map[string]any)
	assert.Contains(t, details, "from")

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started/compare?from=1&to=1", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"same": float64(1), "removed": float64(0), "added": float64(0)}, decodeJSON(t, rr)["stats"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/getting-started/compare?from=1&to=7", token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDocumentWriteErrors(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.seedHTTPDocument("Hello")
	editor := h.token(bob, rbac.RoleEditor)

	rr := h.do(http.MethodPost, "/api/repos/repo-1/docs", editor, map[string]any{"title": "Getting Started"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", decodeJSON(t, rr)["code"])

	rr = h.do(http.MethodPost, "/api/repos/repo-1/docs", h.token(alice, rbac.RoleViewer), map[string]any{"title": "Other"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/repos/repo-1/docs", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+editor)
	raw := httptest.NewRecorder()
	h.handler.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Equal(t, "INVALID_BODY", decodeJSON(t, raw)["code"])

	rr = h.do(http.MethodPut, "/api/repos/repo-1/docs/getting-started", editor, map[string]any{"content": "Hello\nAgain"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hello\nAgain", decodeJSON(t, rr)["document"].(map[string]any)["currentContent"])

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs/missing", editor, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rr)["code"])
}

func TestListDURsFilter(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	token := h.token(alice, rbac.RoleViewer)

	rr := h.do(http.MethodGet, "/api/repos/repo-1/durs?status=open", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeJSON(t, rr)["durs"].([]any), 1)

	rr = h.do(http.MethodGet, "/api/repos/repo-1/durs?status=merged", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeJSON(t, rr)["durs"].([]any))

	rr = h.do(http.MethodGet, "/api/repos/repo-1/durs?status=bogus", token, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestStaleFlagOverHTTP(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")

	rr := h.do(http.MethodPut, "/api/repos/repo-1/docs/getting-started", h.token(bob, rbac.RoleEditor), map[string]any{"content": "Hi"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(http.MethodGet, "/api/repos/repo-1/durs/"+dur["id"].(string), h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decodeJSON(t, rr)["dur"].(map[string]any)["stale"])

	rr = h.do(http.MethodPost, "/api/repos/repo-1/durs/"+dur["id"].(string)+"/approve", h.token(carol, rbac.RoleEditor), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	merged := decodeJSON(t, rr)["dur"].(map[string]any)
	assert.Equal(t, true, merged["stale"])
	assert.EqualValues(t, 3, merged["mergedVersion"])
}

func TestCommentsOverHTTP(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	path := "/api/repos/repo-1/durs/" + dur["id"].(string) + "/comments"

	rr := h.do(http.MethodPost, path, h.token(carol, rbac.RoleViewer), map[string]any{"content": "  Looks good  "})
	require.Equal(t, http.StatusCreated, rr.Code)
	comment := decodeJSON(t, rr)["comment"].(map[string]any)
	assert.Equal(t, "Looks good", comment["content"])
	assert.Equal(t, "carol", comment["author"].(map[string]any)["username"])

	rr = h.do(http.MethodPost, path, h.token(carol, rbac.RoleViewer), map[string]any{"content": "   "})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = h.do(http.MethodGet, path, h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeJSON(t, rr)["comments"].([]any), 1)

	rr = h.do(http.MethodGet, "/api/repos/other-repo/durs/"+dur["id"].(string)+"/comments", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestIdempotentApproveReplays(t *testing.T) {
	mr := miniredis.RunT(t)
	idem, err := idempotency.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	h := newHarness(t, nil, func(o *HTTPOptions) { o.Idempotency = idem })
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	path := "/api/repos/repo-1/durs/" + dur["id"].(string) + "/approve"
	token := h.token(carol, rbac.RoleEditor)

	first := h.do(http.MethodPost, path, token, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	replay := h.do(http.MethodPost, path, token, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	history, err := h.svc.Versions().History(context.Background(), doc["id"].(string))
	require.NoError(t, err)
	assert.Len(t, history, 2)

	fresh := h.do(http.MethodPost, path, token, nil, "Idempotency-Key", "k-2")
	require.Equal(t, http.StatusConflict, fresh.Code)
	assert.Equal(t, "INVALID_STATE", decodeJSON(t, fresh)["code"])
}

func TestIdempotencyKeyInFlightIsConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	idem, err := idempotency.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	h := newHarness(t, nil, func(o *HTTPOptions) { o.Idempotency = idem })
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	path := "/api/repos/repo-1/durs/" + dur["id"].(string) + "/approve"

	_, reserved, err := idem.Reserve(context.Background(), strings.Join([]string{carol.ID, http.MethodPost, path, "k-1"}, "|"))
	require.NoError(t, err)
	require.True(t, reserved)

	rr := h.do(http.MethodPost, path, h.token(carol, rbac.RoleEditor), nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "CONFLICT", decodeJSON(t, rr)["code"])
}

// panickingStore panics inside WithTx once armed.
type panickingStore struct {
	*store.MemoryStore
	armed *atomic.Bool
}

func (p panickingStore) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	if p.armed.Load() {
		panic("storage driver bug")
	}
	return p.MemoryStore.WithTx(ctx, fn)
}

func TestIdempotencyKeyReleasedWhenHandlerPanics(t *testing.T) {
	mr := miniredis.RunT(t)
	idem, err := idempotency.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	armed := &atomic.Bool{}
	h := newHarness(t, panickingStore{MemoryStore: store.NewMemoryStore(), armed: armed}, func(o *HTTPOptions) { o.Idempotency = idem })
	doc := h.seedHTTPDocument("Hello")
	dur := h.proposeHTTP(doc["id"].(string), alice, rbac.RoleViewer, "Hello\nWorld")
	path := "/api/repos/repo-1/durs/" + dur["id"].(string) + "/approve"
	token := h.token(carol, rbac.RoleEditor)

	armed.Store(true)
	rr := h.do(http.MethodPost, path, token, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "SERVER_ERROR", decodeJSON(t, rr)["code"])

	_, err = idem.Lookup(context.Background(), strings.Join([]string{carol.ID, http.MethodPost, path, "k-1"}, "|"))
	require.ErrorIs(t, err, idempotency.ErrNotFound)

	armed.Store(false)
	retry := h.do(http.MethodPost, path, token, nil, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())
	assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))
}

func TestRateLimitPerActor(t *testing.T) {
	h := newHarness(t, nil, func(o *HTTPOptions) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 1
	})

	rr := h.do(http.MethodGet, "/api/repos/repo-1/docs", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", decodeJSON(t, rr)["code"])
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	rr = h.do(http.MethodGet, "/api/repos/repo-1/docs", h.token(bob, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIdleRateLimitersAreEvicted(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	limiters := newLimiterSet(1, 2)
	limiters.now = func() time.Time { return now }
	limiters.lastSweep = now

	limiters.get("actor:alice")
	limiters.get("actor:bob")
	require.Equal(t, 2, limiters.size())

	now = now.Add(limiterIdle / 2)
	limiters.get("actor:bob")

	now = now.Add(limiterIdle / 2)
	limiters.get("actor:carol")
	assert.Equal(t, 2, limiters.size(), "alice idle for a full period is dropped")

	now = now.Add(2 * limiterIdle)
	limiters.get("actor:carol")
	assert.Equal(t, 1, limiters.size())
}

func TestStorageFailureIsServiceUnavailable(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(slowStore{store.NewMemoryStore()}, Options{StoreTimeout: 10 * time.Millisecond, Logger: logger})
	h := &harness{
		t:       t,
		svc:     svc,
		handler: NewHTTPServer(svc, HTTPOptions{Tokens: auth.NewVerifier(testSecret), Logger: logger}).Handler(),
	}

	rr := h.do(http.MethodGet, "/api/repos/repo-1/durs/dur-1", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	body := decodeJSON(t, rr)
	assert.Equal(t, "UNAVAILABLE", body["code"])
	assert.NotContains(t, body["error"], "deadline")
}

func TestSearchEndpoint(t *testing.T) {
	ms := store.NewMemoryStore()
	h := newHarness(t, ms, func(o *HTTPOptions) {
		o.Search = search.NewService(nil, ms, nil)
	})
	h.seedHTTPDocument("Restart the queue worker")

	rr := h.do(http.MethodGet, "/api/repos/repo-1/search?q=queue", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeJSON(t, rr)
	assert.Equal(t, "store", body["source"])
	require.Len(t, body["hits"].([]any), 1)

	unconfigured := newHarness(t, nil, nil)
	rr = unconfigured.do(http.MethodGet, "/api/repos/repo-1/search?q=queue", unconfigured.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, nil, nil)
	rr := h.do(http.MethodGet, "/api/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeJSON(t, rr)["code"])
}

func TestDocumentsCannotBeDeleted(t *testing.T) {
	h := newHarness(t, nil, nil)
	doc := h.seedHTTPDocument("Hello")
	path := "/api/repos/repo-1/docs/" + doc["slug"].(string)

	rr := h.do(http.MethodDelete, path, h.token(alice, rbac.RoleOwner), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(http.MethodGet, path+"/versions", h.token(alice, rbac.RoleViewer), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeJSON(t, rr)["versions"], 1)
}
