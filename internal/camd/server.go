package camd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jmylchreest/camarr/internal/camd/middleware"
	"github.com/jmylchreest/camarr/internal/config"
	"github.com/jmylchreest/camarr/internal/version"
)

// deviceError is the device wire error shape: {"error": string}. It
// replaces huma's RFC 7807 default so simulated failures parse exactly
// like the physical device's.
type deviceError struct {
	status  int
	Message string `json:"error"`
}

func (e *deviceError) Error() string { return e.Message }

// GetStatus implements huma.StatusError.
func (e *deviceError) GetStatus() int { return e.status }

// ContentType implements huma.ContentTypeFilter; errors go out as plain
// JSON, not problem+json.
func (e *deviceError) ContentType(string) string { return "application/json" }

func init() {
	huma.NewError = func(status int, message string, _ ...error) huma.StatusError {
		return &deviceError{status: status, Message: message}
	}
}

// Server is the simulated device's HTTP server: huma-typed JSON endpoints
// on a chi router, plus raw routes for the multipart feed and media files.
type Server struct {
	cfg        config.CamdConfig
	device     *Device
	storage    *Storage
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer assembles storage, device, and router for the given config.
func NewServer(cfg config.CamdConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "camd"))

	storage, err := NewStorage(cfg.StorageDir, cfg.StorageQuota, logger)
	if err != nil {
		return nil, err
	}
	device, err := NewDevice(cfg, storage, logger)
	if err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	// The multipart feed needs every part flushed as written, so the
	// compression middleware skips it (and the raw media files).
	router.Use(middleware.SkipCompressionForStream(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("camarr-camd", version.GetInfo().Version)
	humaConfig.Info.Description = "Simulated camera device API"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:     cfg,
		device:  device,
		storage: storage,
		router:  router,
		api:     api,
		logger:  logger,
	}

	newDeviceHandler(device, storage, logger).Register(api)
	router.Get("/api/stream", s.handleStream)
	router.Get("/media/{kind}/{filename}", s.handleMedia)

	return s, nil
}

// Device returns the simulated device, primarily for tests.
func (s *Server) Device() *Device {
	return s.device
}

// Handler returns the assembled HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.cfg.Address()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays as configured; a finite value would cut off
		// open multipart feeds, so the default is 0.
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting device server",
		slog.String("address", addr),
		slog.Bool("strict", s.cfg.Strict),
		slog.String("storage_dir", s.cfg.StorageDir),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down device server",
		slog.Duration("timeout", s.cfg.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("device server stopped")
	return nil
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// handleStream serves the live multipart feed. Opening the feed turns
// streaming on, the same as the physical device; the feed ends when
// streaming turns off or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.device.EnsureStreaming()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Debug("stream feed opened",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("token", r.URL.Query().Get("t")),
	)

	ticker := time.NewTicker(s.device.FrameInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("stream feed closed by client",
				slog.String("remote_addr", r.RemoteAddr),
			)
			return
		case <-ticker.C:
			frame, err := s.device.StreamFrame()
			if err != nil {
				s.logger.Debug("stream feed ended",
					slog.String("reason", err.Error()),
				)
				return
			}
			if _, err := io.WriteString(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n"); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleMedia serves one stored media file.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	filename := chi.URLParam(r, "filename")

	file, err := s.storage.Open(kind, filename)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": "media file not found"}`)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error": "media file unreadable"}`)
		return
	}

	http.ServeContent(w, r, filename, info.ModTime(), file)
}
