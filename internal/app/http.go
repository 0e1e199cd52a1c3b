package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"dochub/api/internal/auth"
	"dochub/api/internal/idempotency"
	"dochub/api/internal/metrics"
	"dochub/api/internal/rbac"
	"dochub/api/internal/search"
)

const (
	ctxActor     = "actor"
	ctxRole      = "role"
	ctxRequestID = "request_id"

	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"
)

type identityVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type idempotencyStore interface {
	Reserve(ctx context.Context, key string) (idempotency.Record, bool, error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	Release(ctx context.Context, key string) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

// ReadinessCheck is an extra dependency probed by /api/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HTTPOptions struct {
	CORSOrigin  string
	Tokens      identityVerifier
	Idempotency idempotencyStore
	Search      searcher
	// RateLimitRPS <= 0 disables per-actor rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        http.Handler
	Readiness      []ReadinessCheck
	Logger         *slog.Logger
}

type HTTPServer struct {
	service  *Service
	opts     HTTPOptions
	logger   *slog.Logger
	limiters *limiterSet
	known    sync.Map // actor id -> username already recorded
	engine   *gin.Engine
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPServer{
		service:  service,
		opts:     opts,
		logger:   logger,
		limiters: newLimiterSet(opts.RateLimitRPS, opts.RateLimitBurst),
	}
	s.engine = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(s.requestID(), s.accessLog(), gin.CustomRecovery(s.recovered), cors.New(corsConfig(s.opts.CORSOrigin)))

	r.GET("/api/health", s.health)
	r.HEAD("/api/health", s.health)
	r.GET("/api/ready", s.ready)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	api := r.Group("/api", s.authenticate(), s.rateLimit())
	repo := api.Group("/repos/:repoId")

	repo.GET("/docs", s.require(rbac.ActionRead), s.listDocuments)
	repo.POST("/docs", s.require(rbac.ActionWrite), s.createDocument)
	repo.GET("/docs/:slug", s.require(rbac.ActionRead), s.getDocument)
	repo.PUT("/docs/:slug", s.require(rbac.ActionWrite), s.updateDocument)
	repo.GET("/docs/:slug/versions", s.require(rbac.ActionRead), s.listVersions)
	repo.GET("/docs/:slug/versions/:number", s.require(rbac.ActionRead), s.getVersion)
	repo.GET("/docs/:slug/compare", s.require(rbac.ActionRead), s.compareVersions)

	repo.GET("/durs", s.require(rbac.ActionRead), s.listDURs)
	repo.POST("/durs", s.require(rbac.ActionPropose), s.createDUR)
	repo.GET("/durs/:durId", s.require(rbac.ActionRead), s.getDUR)
	repo.GET("/durs/:durId/diff", s.require(rbac.ActionRead), s.durDiff)
	repo.POST("/durs/:durId/approve", s.require(rbac.ActionReview), s.idempotent(), s.approveDUR)
	repo.POST("/durs/:durId/reject", s.require(rbac.ActionReview), s.idempotent(), s.rejectDUR)
	repo.GET("/durs/:durId/comments", s.require(rbac.ActionRead), s.listComments)
	repo.POST("/durs/:durId/comments", s.require(rbac.ActionComment), s.addComment)

	repo.GET("/search", s.require(rbac.ActionRead), s.searchDocuments)

	r.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	return r
}

func (s *HTTPServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *HTTPServer) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	statusCode := http.StatusOK
	checks := gin.H{}
	probe := func(name string, err error) {
		if err != nil {
			statusCode = http.StatusServiceUnavailable
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = gin.H{"status": "error"}
			return
		}
		checks[name] = gin.H{"status": "ok"}
	}
	probe("database", s.service.Ping(ctx))
	for _, check := range s.opts.Readiness {
		probe(check.Name, check.Check(ctx))
	}

	status := "ready"
	if statusCode != http.StatusOK {
		status = "not_ready"
	}
	c.JSON(statusCode, gin.H{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(headerRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(ctxRequestID, rid)
		c.Header(headerRequestID, rid)
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func (s *HTTPServer) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		elapsed := time.Since(started)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
		s.logger.Info("http request",
			"request_id", c.GetString(ctxRequestID),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
}

func (s *HTTPServer) recovered(c *gin.Context, recovered any) {
	s.logger.Error("panic serving request",
		"request_id", c.GetString(ctxRequestID),
		"path", c.Request.URL.Path,
		"panic", recovered,
	)
	writeError(c, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
}

func corsConfig(origin string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", headerRequestID, headerIdempotency},
		ExposeHeaders: []string{headerRequestID, "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	origin = strings.TrimSpace(origin)
	if origin == "" || origin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = strings.Split(origin, ",")
		for i := range cfg.AllowOrigins {
			cfg.AllowOrigins[i] = strings.TrimSpace(cfg.AllowOrigins[i])
		}
	}
	return cfg
}

func (s *HTTPServer) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" || s.opts.Tokens == nil {
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		identity, err := s.opts.Tokens.Verify(token)
		if err != nil {
			message := "Unauthorized"
			if errors.Is(err, auth.ErrExpiredToken) {
				message = "Token expired"
			}
			writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
			return
		}

		actor := Actor{ID: identity.ID, Username: identity.Username}
		if known, ok := s.known.Load(actor.ID); !ok || known != actor.Username {
			if err := s.service.EnsureUser(c.Request.Context(), actor); err != nil {
				s.fail(c, err)
				return
			}
			s.known.Store(actor.ID, actor.Username)
		}

		c.Set(ctxActor, actor)
		c.Set(ctxRole, rbac.Normalize(identity.Role))
		c.Next()
	}
}

func (s *HTTPServer) require(action rbac.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ctxRole)
		r, _ := role.(rbac.Role)
		if !rbac.Can(r, action) {
			s.fail(c, domainError(KindPermissionDenied, "Forbidden", map[string]any{"action": action, "role": r}))
			return
		}
		c.Next()
	}
}

// limiterIdle is how long an actor's limiter may go unused before it is
// dropped. It never undercuts the time a bucket takes to refill.
const limiterIdle = 10 * time.Minute

type limiterSet struct {
	rps       rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	mu        sync.Mutex
	byKey     map[string]*actorLimiter
	lastSweep time.Time
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps) + 1
	}
	idle := limiterIdle
	if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &limiterSet{
		rps:       rate.Limit(rps),
		burst:     burst,
		idle:      idle,
		now:       time.Now,
		byKey:     make(map[string]*actorLimiter),
		lastSweep: time.Now(),
	}
}

func (l *limiterSet) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}
	entry, ok := l.byKey[key]
	if !ok {
		entry = &actorLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.byKey[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// sweep drops limiters idle for longer than l.idle. Caller holds l.mu.
func (l *limiterSet) sweep(now time.Time) {
	for key, entry := range l.byKey {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.byKey, key)
		}
	}
	l.lastSweep = now
}

func (l *limiterSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

func (s *HTTPServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiters == nil {
			c.Next()
			return
		}
		key := "actor:" + actorFrom(c).ID
		if !s.limiters.get(key).Allow() {
			metrics.RateLimitRejected.WithLabelValues("actor").Inc()
			c.Header("Retry-After", "1")
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", nil)
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("actor").Inc()
		c.Next()
	}
}

// bodyRecorder keeps a copy of the response body for idempotent replay.
type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(v string) (int, error) {
	r.body.WriteString(v)
	return r.ResponseWriter.WriteString(v)
}

// idempotent deduplicates requests carrying an Idempotency-Key. Keys are
// scoped to the actor and the request path.
func (s *HTTPServer) idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotency))
		if s.opts.Idempotency == nil || key == "" {
			c.Next()
			return
		}
		scoped := strings.Join([]string{actorFrom(c).ID, c.Request.Method, c.Request.URL.Path, key}, "|")
		ctx := context.WithoutCancel(c.Request.Context())

		record, reserved, err := s.opts.Idempotency.Reserve(ctx, scoped)
		if err != nil {
			s.logger.Warn("idempotency store unavailable, processing without dedupe",
				"request_id", c.GetString(ctxRequestID), "error", err)
			c.Next()
			return
		}
		if !reserved {
			if record.State == idempotency.StateDone {
				c.Header("Idempotent-Replayed", "true")
				c.Data(record.Status, "application/json; charset=utf-8", record.Body)
				c.Abort()
				return
			}
			writeError(c, http.StatusConflict, string(KindConflict), "A request with this Idempotency-Key is in progress", nil)
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		defer func() {
			if recovered := recover(); recovered != nil {
				if err := s.opts.Idempotency.Release(ctx, scoped); err != nil {
					s.logger.Warn("idempotency key not released", "request_id", c.GetString(ctxRequestID), "error", err)
				}
				panic(recovered)
			}
		}()
		c.Next()

		status := recorder.Status()
		if status >= http.StatusInternalServerError {
			err = s.opts.Idempotency.Release(ctx, scoped)
		} else {
			err = s.opts.Idempotency.Complete(ctx, scoped, status, recorder.body.Bytes())
		}
		if err != nil {
			s.logger.Warn("idempotency record not saved", "request_id", c.GetString(ctxRequestID), "error", err)
		}
	}
}

func actorFrom(c *gin.Context) Actor {
	value, _ := c.Get(ctxActor)
	actor, _ := value.(Actor)
	return actor
}

// fail writes err as an error envelope. Unavailable errors carry
// Retry-After and have their cause logged; unknown errors become 500.
func (s *HTTPServer) fail(c *gin.Context, err error) {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		s.logger.Error("unhandled error", "request_id", c.GetString(ctxRequestID), "path", c.Request.URL.Path, "error", err)
		writeError(c, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
		return
	}
	if domainErr.Kind == KindUnavailable {
		s.logger.Error("storage unavailable", "request_id", c.GetString(ctxRequestID), "path", c.Request.URL.Path, "error", err)
		c.Header("Retry-After", "1")
	}
	writeError(c, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// decodeBody binds an optional JSON body. An empty body leaves target as is.
func decodeBody(c *gin.Context, target any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}
