// Package httpserver exposes wharf's append/read/tail/check_tail and
// basin/stream CRUD surface as JSON over HTTP: one Server owning a
// net/http.Server and net.Listener, handlers registered on a plain
// http.ServeMux, CORS middleware, and context-aware graceful shutdown.
package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/runtime"
	"github.com/wharfdb/wharf/pkg/id"
	"github.com/wharfdb/wharf/pkg/log"
)

// Server is the HTTP gateway over one Runtime.
type Server struct {
	rt     *runtime.Runtime
	logger log.Logger
	srv    *http.Server
	lis    net.Listener
	reqIDs *id.Generator
}

// New builds a Server and registers every route on a fresh ServeMux.
func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewLogger()
	}
	mux := http.NewServeMux()
	s := &Server{rt: rt, logger: logger, reqIDs: id.NewGenerator(), srv: &http.Server{}}
	s.srv.Handler = cors(s.withRequestID(mux))

	mux.HandleFunc("GET /v1/healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/basins/{basin}", s.handleCreateBasin)
	mux.HandleFunc("POST /v1/basins/{basin}/streams/{stream}", s.handleCreateStream)
	mux.HandleFunc("POST /v1/basins/{basin}/streams/{stream}/config", s.handleReconfigure)
	mux.HandleFunc("DELETE /v1/basins/{basin}/streams/{stream}", s.handleDeleteStream)
	mux.HandleFunc("POST /v1/basins/{basin}/streams/{stream}/append", s.handleAppend)
	mux.HandleFunc("GET /v1/basins/{basin}/streams/{stream}/records", s.handleRead)
	mux.HandleFunc("GET /v1/basins/{basin}/streams/{stream}/tail", s.handleCheckTail)

	return s
}

// ListenAndServe binds addr and serves until ctx is canceled, at which point
// it shuts down gracefully with a bounded timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(cctx)
	case err := <-errCh:
		return err
	}
}

// Close releases the listener without waiting for in-flight requests.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// withRequestID stamps every response with a monotonically increasing,
// per-process request id, surfaced back to the caller and attached to any
// error log line writeErr emits for that request.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", s.reqIDs.Next().String())
		next.ServeHTTP(w, r)
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusForKind maps the apierr taxonomy onto an HTTP status, per spec.md §7.
func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindAlreadyExists:
		return http.StatusConflict
	case apierr.KindWrongSeq, apierr.KindNonMonotonicTimestamp:
		return http.StatusConflict
	case apierr.KindInvalidArgument:
		return http.StatusBadRequest
	case apierr.KindUnavailable, apierr.KindAborted:
		return http.StatusServiceUnavailable
	case apierr.KindCorrupt, apierr.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	if kind == apierr.KindCorrupt || kind == apierr.KindInternal {
		s.logger.Error("request failed", log.Err(err), log.Str("kind", kind.String()), log.Str("request_id", w.Header().Get("X-Request-Id")))
	}
	writeError(w, statusForKind(kind), err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
