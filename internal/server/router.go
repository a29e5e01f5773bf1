package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jlindqvist/autopatchd/internal/inventory"
	"github.com/jlindqvist/autopatchd/internal/launcher"
	"github.com/jlindqvist/autopatchd/internal/ldapauth"
	"github.com/jlindqvist/autopatchd/internal/ledger"
	"github.com/jlindqvist/autopatchd/internal/session"
)

// Launcher is the run-starting capability the API needs.
type Launcher interface {
	Enqueue(ctx context.Context, opts launcher.Options) (ledger.Run, error)
}

// Verifier checks directory credentials.
type Verifier interface {
	Verify(username, password string) (ldapauth.Identity, error)
}

// InventoryRunner produces environment inventory summaries.
type InventoryRunner interface {
	Summarize(ctx context.Context, env string) (inventory.Summary, error)
}

// RunDefaults fills manual run requests that omit parameters.
type RunDefaults struct {
	Env          string
	BasePath     string
	MaxWorkers   int
	ProbeTimeout float64
}

// Router provides embeddable HTTP handlers for the patch run API.
// Endpoints (all JSON, under {basePath}):
//
//	POST /api/auth/login             form: username, password
//	POST /api/auth/logout
//	GET  /api/auth/me
//	POST /api/runs/manual            body: run options, defaults applied
//	GET  /api/runs                   query: limit=...&env=...
//	GET  /api/runs/:id
//	POST /api/schedules              body: schedule JSON
//	GET  /api/schedules              query: env=...
//	POST /api/schedules/:id/toggle
//	GET  /api/inventory/:env
//	GET  /healthz
//
// Everything except /healthz and /api/auth/login requires a valid
// session cookie.
type Router struct {
	store        ledger.Store
	launch       Launcher
	verifier     Verifier
	inv          InventoryRunner
	codec        *session.Codec
	defaults     RunDefaults
	basePath     string
	secureCookie bool
}

// NewRouter constructs a Router with configurable basePath.
func NewRouter(store ledger.Store, launch Launcher, verifier Verifier, inv InventoryRunner, codec *session.Codec, defaults RunDefaults, basePath string) *Router {
	return &Router{
		store:    store,
		launch:   launch,
		verifier: verifier,
		inv:      inv,
		codec:    codec,
		defaults: defaults,
		basePath: sanitizeBase(basePath),
	}
}

// SetSecureCookie marks the session cookie Secure; enable when the server
// sits behind TLS.
func (r *Router) SetSecureCookie(on bool) { r.secureCookie = on }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.POST("/api/auth/login", r.handleLogin)

	api := group.Group("/api", r.requireSession)
	api.POST("/auth/logout", r.handleLogout)
	api.GET("/auth/me", r.handleMe)
	api.POST("/runs/manual", r.handleManualRun)
	api.GET("/runs", r.handleListRuns)
	api.GET("/runs/:id", r.handleGetRun)
	api.POST("/schedules", r.handleCreateSchedule)
	api.GET("/schedules", r.handleListSchedules)
	api.POST("/schedules/:id/toggle", r.handleToggleSchedule)
	api.GET("/inventory/:env", r.handleInventory)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Call Close or Shutdown on the returned server to stop it.
func NewServer(addr string, r *Router) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer starts a standalone HTTPS server on addr using this router
// and the given TLS configuration. The session cookie is marked Secure.
func NewTLSServer(addr string, r *Router, tcfg *tls.Config) (*http.Server, error) {
	r.SetSecureCookie(true)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tcfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

const sessionUserKey = "session_user"

// requireSession rejects requests without a valid session cookie. Token
// validation never says why it failed; a missing, expired or tampered
// cookie all read the same to the caller.
func (r *Router) requireSession(c *gin.Context) {
	token, err := c.Cookie(session.CookieName)
	if err != nil {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "authentication required"})
		c.Abort()
		return
	}
	user := r.codec.ReadToken(token)
	if user == nil {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "authentication required"})
		c.Abort()
		return
	}
	c.Set(sessionUserKey, user)
	c.Next()
}

func (r *Router) handleLogin(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	id, err := r.verifier.Verify(username, password)
	if err != nil {
		// Only two error categories leave this endpoint; directory
		// details never reach the client.
		if errors.Is(err, ldapauth.ErrUnavailable) {
			writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "authentication service unavailable"})
			return
		}
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid credentials"})
		return
	}

	user := session.User{Username: id.Username, DisplayName: id.DisplayName, Groups: id.Groups}
	token, err := r.codec.CreateToken(user)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "session creation failed"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(session.CookieName, token, int(r.codec.MaxAge().Seconds()), "/", "", r.secureCookie, true)
	writeJSON(c, http.StatusOK, user)
}

func (r *Router) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(session.CookieName, "", -1, "/", "", r.secureCookie, true)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleMe(c *gin.Context) {
	user, _ := c.Get(sessionUserKey)
	writeJSON(c, http.StatusOK, user)
}

// manualRunReq mirrors launcher.Options; zero-valued fields pick up the
// configured defaults.
type manualRunReq struct {
	Env          string  `json:"env"`
	BasePath     string  `json:"base_path"`
	MaxWorkers   int     `json:"max_workers"`
	ProbeTimeout float64 `json:"probe_timeout"`
	DryRun       bool    `json:"dry_run"`
}

func (r *Router) handleManualRun(c *gin.Context) {
	var req manualRunReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	opts := launcher.Options{
		Env:          req.Env,
		BasePath:     req.BasePath,
		MaxWorkers:   req.MaxWorkers,
		ProbeTimeout: req.ProbeTimeout,
		DryRun:       req.DryRun,
		Trigger:      "manual",
	}
	if opts.Env == "" {
		opts.Env = r.defaults.Env
	}
	if opts.BasePath == "" {
		opts.BasePath = r.defaults.BasePath
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = r.defaults.MaxWorkers
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = r.defaults.ProbeTimeout
	}
	if !isSafeName(opts.Env) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid env: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	run, err := r.launch.Enqueue(c.Request.Context(), opts)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, run)
}

func (r *Router) handleListRuns(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive number"})
		return
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := r.store.ListRuns(c.Request.Context(), limit, c.Query("env"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, runs)
}

func (r *Router) handleGetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "run id must be a number"})
		return
	}
	run, err := r.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "run not found"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, run)
}

func (r *Router) handleCreateSchedule(c *gin.Context) {
	var s ledger.Schedule
	if err := c.ShouldBindJSON(&s); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if s.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if !isSafeName(s.Env) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid env: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isValidDay(s.DayOfWeek) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "day_of_week must be one of mon..sun"})
		return
	}
	if !isValidHHMM(s.TimeHHMM) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "time_hhmm must be HH:MM (24h)"})
		return
	}
	if s.BasePath == "" {
		s.BasePath = r.defaults.BasePath
	}
	if s.MaxWorkers == 0 {
		s.MaxWorkers = r.defaults.MaxWorkers
	}
	if s.ProbeTimeout == 0 {
		s.ProbeTimeout = r.defaults.ProbeTimeout
	}
	if s.MaxWorkers < 1 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "max_workers must be positive"})
		return
	}
	if s.ProbeTimeout <= 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "probe_timeout must be positive"})
		return
	}
	id, err := r.store.InsertSchedule(c.Request.Context(), s)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	s.ID = id
	writeJSON(c, http.StatusCreated, s)
}

func (r *Router) handleListSchedules(c *gin.Context) {
	items, err := r.store.ListSchedules(c.Request.Context(), c.Query("env"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, items)
}

func (r *Router) handleToggleSchedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "schedule id must be a number"})
		return
	}
	if err := r.store.ToggleSchedule(c.Request.Context(), id); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "schedule not found"})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleInventory(c *gin.Context) {
	env := c.Param("env")
	if !isSafeName(env) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid env: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	sum, err := r.inv.Summarize(c.Request.Context(), env)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, sum)
}
