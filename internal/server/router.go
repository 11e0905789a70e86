// Package server exposes the daemon control API over HTTP. This is the
// surface the hostd CLI talks to; it is not a player- or tenant-facing API.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	mng "github.com/loykin/hostd/internal/manager"
	"github.com/loykin/hostd/internal/metrics"
	"github.com/loykin/hostd/internal/process"
)

// Router provides embeddable HTTP handlers for the supervision daemon.
// Endpoints under basePath:
//
//	POST /start           body: Spec JSON
//	POST /stop            query: name=...|id=...&wait=5s
//	POST /restart         query: name=...|id=...
//	POST /reset-restarts  query: name=...|id=...
//	POST /rcon            query: name=...|id=...  body: {"command": "..."}
//	POST /heartbeat       query: name=...|id=...
//	POST /shutdown
//	GET  /status          query: name=...|id=... (single) or none (all)
//	GET  /stats
//	GET  /healthz
//	GET  /metrics
type Router struct {
	mgr      *mng.Manager
	basePath string
	// onShutdown, when set, is invoked by POST /shutdown.
	onShutdown func()
	// onHeartbeat, when set, is invoked by POST /heartbeat. Workers without
	// an in-band liveness channel push their heartbeats here.
	onHeartbeat func(id uuid.UUID) error
}

func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// SetShutdownFunc enables the POST /shutdown endpoint.
func (r *Router) SetShutdownFunc(fn func()) { r.onShutdown = fn }

// SetHeartbeatFunc enables the POST /heartbeat endpoint.
func (r *Router) SetHeartbeatFunc(fn func(id uuid.UUID) error) { r.onHeartbeat = fn }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/reset-restarts", r.handleResetRestarts)
	group.POST("/rcon", r.handleRcon)
	group.POST("/shutdown", r.handleShutdown)
	group.POST("/heartbeat", r.handleHeartbeat)
	group.GET("/status", r.handleStatus)
	group.GET("/stats", r.handleStats)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, mgr *mng.Manager) (*http.Server, *Router) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, r
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool      `json:"ok"`
	ID uuid.UUID `json:"id,omitempty"`
}

// resolve turns the name= or id= query selector into a process ID.
func (r *Router) resolve(c *gin.Context) (uuid.UUID, bool) {
	if idStr := c.Query("id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid id: " + err.Error()})
			return uuid.Nil, false
		}
		return id, true
	}
	if name := c.Query("name"); name != "" {
		id, ok := r.mgr.Lookup(name)
		if !ok {
			writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown process: " + name})
			return uuid.Nil, false
		}
		return id, true
	}
	writeJSON(c, http.StatusBadRequest, errorResp{Error: "name or id query param required"})
	return uuid.Nil, false
}

func (r *Router) handleStart(c *gin.Context) {
	var spec process.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if spec.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "spec.name required"})
		return
	}
	if !isSafeName(spec.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid spec.name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	for field, p := range map[string]string{
		"work_dir": spec.WorkDir,
		"pid_file": spec.PIDFile,
		"log.dir":  spec.Log.Dir,
	} {
		if !isSafeAbsPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + field + ": must be absolute path without traversal"})
			return
		}
	}
	id, err := r.mgr.Start(spec)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, ID: id})
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	wait := time.Duration(0) // zero lets the spec's stop timeout apply
	if waitStr := c.Query("wait"); waitStr != "" {
		if d, err := time.ParseDuration(waitStr); err == nil {
			wait = d
		}
	}
	if err := r.mgr.Stop(id, wait); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, ID: id})
}

func (r *Router) handleRestart(c *gin.Context) {
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	if err := r.mgr.Restart(id); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, ID: id})
}

func (r *Router) handleResetRestarts(c *gin.Context) {
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	if err := r.mgr.ResetRestarts(id); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, ID: id})
}

type rconReq struct {
	Command string `json:"command"`
}

type rconResp struct {
	Output string `json:"output"`
}

func (r *Router) handleRcon(c *gin.Context) {
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	var req rconReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "body must be {\"command\": \"...\"}"})
		return
	}
	out, err := r.mgr.Rcon(id, req.Command)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, rconResp{Output: out})
}

func (r *Router) handleStatus(c *gin.Context) {
	if c.Query("name") == "" && c.Query("id") == "" {
		writeJSON(c, http.StatusOK, r.mgr.Statuses())
		return
	}
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	st, err := r.mgr.Status(id)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStats(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.Stats())
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHeartbeat(c *gin.Context) {
	if r.onHeartbeat == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "heartbeat endpoint disabled"})
		return
	}
	id, ok := r.resolve(c)
	if !ok {
		return
	}
	if err := r.onHeartbeat(id); err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true, ID: id})
}

func (r *Router) handleShutdown(c *gin.Context) {
	if r.onShutdown == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "shutdown endpoint disabled"})
		return
	}
	r.onShutdown()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
