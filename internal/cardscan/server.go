package cardscan

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth"

	"github.com/zombor/card-scanner/internal/imagecache"
)

const defaultMaxImageBytes = 15 << 20

// Config holds the server settings
type Config struct {
	// JWTSecret enables HS256 bearer tokens; the subject is the user identity.
	JWTSecret string
	// TrustProxy uses X-Forwarded-For as the client address.
	TrustProxy bool
	// MaxImageBytes bounds decoded photos. Zero means 15MB.
	MaxImageBytes int64
	// Objects serves GET /images/ when set, for local storage.
	Objects imagecache.Storage
}

// Server handles HTTP requests for scans and card images
type Server struct {
	service       *Service
	mux           *http.ServeMux
	handler       http.Handler
	tokenAuth     *jwtauth.JWTAuth
	trustProxy    bool
	maxImageBytes int64
	objects       imagecache.Storage
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, cfg Config) *Server {
	return NewServerWithMux(service, cfg, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, cfg Config, mux *http.ServeMux) *Server {
	s := &Server{
		service:       service,
		mux:           mux,
		trustProxy:    cfg.TrustProxy,
		maxImageBytes: cfg.MaxImageBytes,
		objects:       cfg.Objects,
	}
	if s.maxImageBytes <= 0 {
		s.maxImageBytes = defaultMaxImageBytes
	}
	if cfg.JWTSecret != "" {
		s.tokenAuth = jwtauth.New("HS256", []byte(cfg.JWTSecret), nil)
	}
	s.registerRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         3600,
	}).Handler(s.mux)
	return s
}

func (s *Server) registerRoutes() {
	s.mux.Handle("POST /api/scan", s.identify(s.handleScan))
	s.mux.Handle("POST /api/images/lookup", s.identify(s.handleLookupImage))
	s.mux.Handle("POST /api/images", s.identify(s.handleCommit))
	if s.objects != nil {
		s.mux.HandleFunc("GET /images/{path...}", s.handleImage)
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Start serves HTTP on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
