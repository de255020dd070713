package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/kjk/treewalk/httplog"
	"github.com/kjk/treewalk/httputil"
	"github.com/kjk/treewalk/log"
	"github.com/kjk/treewalk/treestore"
	"github.com/kjk/treewalk/u"
)

// Store is the part of treestore.Store the handlers need,
// carved out so tests can substitute their own implementation
type Store interface {
	ReadAll() ([]treestore.Row, error)
	Append(lat, lon float64, species, notes string) (int64, error)
}

type Options struct {
	Port      int
	StaticDir string
	// can be nil to disable per-request logging
	HTTPLog *httplog.Logger
}

type Server struct {
	store     Store
	port      int
	staticDir string
	httpLog   *httplog.Logger
}

func New(store Store, opts Options) *Server {
	u.PanicIf(store == nil, "store is required")
	if opts.Port == 0 {
		opts.Port = 8000
	}
	if opts.StaticDir == "" {
		opts.StaticDir = "static"
	}
	return &Server{
		store:     store,
		port:      opts.Port,
		staticDir: opts.StaticDir,
		httpLog:   opts.HTTPLog,
	}
}

// Router builds the http handler: /api goes to the JSON API,
// everything else is served from the static dir
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/trees", s.handleTrees)
	// unknown api paths don't fall through to the static server
	r.PathPrefix("/api").HandlerFunc(s.apiNotFound)
	r.PathPrefix("/").HandlerFunc(s.serveStatic)
	return s.logRequests(r)
}

func (s *Server) logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := &httputil.CapturingResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		timeStart := time.Now()
		h.ServeHTTP(cw, r)
		dur := time.Since(timeStart)
		err := s.httpLog.LogReq(r, cw.StatusCode, cw.Size, dur)
		log.IfErrf(err)
		log.Verbosef("%s %s %d %s in %s\n", r.Method, r.URL.RequestURI(), cw.StatusCode, u.FormatSize(cw.Size), u.FormatDuration(dur))
	})
}

// Run starts the server and blocks until ctx is canceled or serving
// fails. Returns nil after a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on '%s': %w", addr, err)
	}
	port := l.Addr().(*net.TCPAddr).Port

	hs := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  time.Second * 120,
		WriteTimeout: time.Second * 120,
	}

	log.Logf("TreeWalk server running on port %d\n", port)
	log.Event("server_start", "port", port)

	chErr := make(chan error, 1)
	go func() {
		err := hs.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		chErr <- err
	}()

	select {
	case err = <-chErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = hs.Shutdown(shutdownCtx)
	log.Event("server_stop", "port", port)
	if err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-chErr
}
