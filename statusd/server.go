// Package statusd is the lightweight HTTP status/control surface (spec §10 Ambient Stack): a
// JSON snapshot of Coordinator/worker state, built on valyala/fasthttp the way the teacher's own
// xaction Snap() endpoint is, without reintroducing the teacher's S3/object-storage surface.
package statusd

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/NVIDIA/aisync/cmn/nlog"
)

// WorkerSnap is one worker's point-in-time status, the unit statusd reports per rank.
type WorkerSnap struct {
	Rank    int    `json:"rank"`
	Device  int    `json:"device"`
	State   string `json:"state"`
	Iter    int64  `json:"iter"`
}

// RunSnap is the full run snapshot served at GET /v1/status.
type RunSnap struct {
	RunID   string       `json:"run_id"`
	Backend string       `json:"backend"`
	Workers []WorkerSnap `json:"workers"`
}

// Source supplies the current RunSnap on demand; the Coordinator implements it (or a thin
// adapter over it) and installs itself with SetSource.
type Source interface {
	Snap() RunSnap
}

// Server is a single-endpoint fasthttp status server. Safe for concurrent Snap() calls to race
// with SetSource, since both go through the same mutex-guarded pointer.
type Server struct {
	addr string
	srv  *fasthttp.Server

	mu     sync.RWMutex
	source Source
}

// New constructs a Server listening on addr (not yet started).
func New(addr string) *Server {
	s := &Server{addr: addr}
	s.srv = &fasthttp.Server{Handler: s.handle}
	return s
}

// SetSource installs (or replaces) the RunSnap provider.
func (s *Server) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// ListenAndServe blocks serving requests until the listener is closed or fails. The caller runs
// this on its own goroutine, mirroring the teacher's own status-server lifecycle.
func (s *Server) ListenAndServe() error {
	nlog.Infof("statusd: listening on %s", s.addr)
	return s.srv.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/v1/status" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		return
	}
	body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(src.Snap())
	if err != nil {
		nlog.Errorf("statusd: marshal snapshot: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
