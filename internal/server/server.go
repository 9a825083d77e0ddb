// Package server exposes the scoring engine, the drawing catalog and live
// game rounds over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	sketchscorer "github.com/menta2k/sketch-scorer"
	"github.com/menta2k/sketch-scorer/internal/config"
	"github.com/menta2k/sketch-scorer/pkg/catalog"
	"github.com/menta2k/sketch-scorer/pkg/guess"
	"github.com/menta2k/sketch-scorer/pkg/round"
)

const shutdownTimeout = 5 * time.Second

// Server serves the HTTP API
type Server struct {
	cfg    *config.Config
	scorer *sketchscorer.Scorer
	logger *zap.Logger
	picker *catalog.Picker
	rounds *roundManager

	// scoring slots shared by POST /score
	sem chan struct{}

	guesser *guess.Guesser
	model   string
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the access and error logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPicker replaces the random drawing picker
func WithPicker(p *catalog.Picker) Option {
	return func(s *Server) {
		if p != nil {
			s.picker = p
		}
	}
}

// WithGuesser enables POST /guess using model
func WithGuesser(g *guess.Guesser, model string) Option {
	return func(s *Server) {
		s.guesser = g
		s.model = model
	}
}

// New creates a server. Close must be called to stop the round queues when
// the server is not run through Serve.
func New(cfg *config.Config, scorer *sketchscorer.Scorer, opts ...Option) *Server {
	slots := cfg.Server.Concurrency
	if slots < 1 {
		slots = 1
	}
	s := &Server{
		cfg:    cfg,
		scorer: scorer,
		logger: zap.NewNop(),
		picker: catalog.NewPicker(nil),
		sem:    make(chan struct{}, slots),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.rounds = newRoundManager(scorer, round.Options{
		Concurrency: slots,
		Logger:      s.logger.Named("round"),
	}, cfg.Server.RoundTTL)
	return s
}

// Handler returns the router with every route registered
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.logger.Error("handler panic",
			zap.String("path", r.URL.Path),
			zap.Any("panic", i),
			zap.Stack("stack"))
		writeError(w, http.StatusInternalServerError, "an error has occurred, please try again")
	}

	prefix := strings.TrimSuffix(s.cfg.Server.Prefix, "/")

	mux.GET(prefix+"/healthz", s.logged(s.serveHealthCheck))
	mux.GET(prefix+"/version", s.logged(s.serveVersion))

	mux.GET(prefix+"/drawings", s.logged(s.serveDrawings))
	mux.GET(prefix+"/drawings/:id", s.logged(s.serveDrawing))
	mux.GET(prefix+"/random-drawing", s.logged(s.serveRandomDrawing))

	mux.POST(prefix+"/score", s.logged(s.serveScore))
	mux.POST(prefix+"/guess", s.logged(s.serveGuess))

	mux.POST(prefix+"/rounds", s.logged(s.serveCreateRound))
	mux.GET(prefix+"/rounds/:id", s.logged(s.serveRound))
	mux.POST(prefix+"/rounds/:id/submissions", s.logged(s.serveSubmit))
	mux.POST(prefix+"/rounds/:id/close", s.logged(s.serveCloseRound))
	mux.GET(prefix+"/rounds/:id/votes", s.logged(s.serveStandings))
	mux.POST(prefix+"/rounds/:id/votes", s.logged(s.serveVote))
	mux.GET(prefix+"/rounds/:id/upload", s.logged(s.serveUploadPage))
	mux.GET(prefix+"/rounds/:id/qr", s.logged(s.serveQR))
	mux.GET(prefix+"/rounds/:id/ws", s.serveRoundWS)

	return mux
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully and stops every round queue
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Server.Bind, strconv.Itoa(s.cfg.Server.Port)),
		Handler:           s.Handler(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening",
			zap.String("address", "http://"+srv.Addr+s.cfg.Server.Prefix+"/"),
			zap.String("version", sketchscorer.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	s.Close()

	s.logger.Info("server stopped")
	return err
}

// Close stops every round queue and waits for in-flight scoring to finish
func (s *Server) Close() {
	s.rounds.close()
}

// acquire takes a scoring slot, giving up when the request goes away
func (s *Server) acquire(ctx context.Context) bool {
	select {
	case s.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() {
	<-s.sem
}

func (s *Server) logged(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		securityHeaders(w)
		h(w, r, p)

		s.logger.Info("served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", realIP(r)),
			zap.Duration("elapsed", time.Since(startTime).Round(time.Microsecond)))
	}
}

func securityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), magnetometer=(), gyroscope=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
