package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/rtps/internal/runtime"
	"github.com/rzbill/rtps/internal/server/http/controllers"
	"github.com/rzbill/rtps/pkg/log"
)

// Server is the admin HTTP endpoint of a participant.
type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

// New builds the admin server and registers every controller route.
func New(rt *runtime.Runtime, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, logger).RegisterAllRoutes(mux)
	return &Server{
		rt:     rt,
		logger: logger.WithComponent("http"),
		srv:    &http.Server{Handler: cors(mux), ReadHeaderTimeout: 5 * time.Second},
	}
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("admin http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once serving.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
