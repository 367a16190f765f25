package server

import (
	"context"
	"net/http"

	"docintel/app/api"
	"docintel/app/middleware"
	"docintel/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

type Handlers struct {
	Request *api.RequestHandler
	File    *api.FileHandler
	Check   *api.CheckHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type Server struct {
	listenAddr string
	app        *fiber.App
	logger     *zap.Logger
}

func NewServer(addr string, bodyLimitMB int, h Handlers, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	config := fiber.Config{
		ErrorHandler:          api.NewErrorHandler(logger),
		BodyLimit:             bodyLimitMB << 20,
		DisableStartupMessage: true,
	}

	var (
		app   = fiber.New(config)
		check = app.Group("/check")
		apiv1 = app.Group("/api")
	)
	app.Use(middleware.Metrics(m))
	app.Use(middleware.RequestLogger(logger))

	check.Get("/healthy", h.Check.HandleHealthy)
	if h.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(h.Metrics))
	}

	for _, r := range []fiber.Router{apiv1, app} {
		r.Post("/extract", h.Request.HandleExtract)
		r.Post("/ask", h.Request.HandleAsk)
		r.Post("/ingest", h.Request.HandleIngest)
	}
	apiv1.Get("/jobs/:id", h.Request.HandleJob)
	apiv1.Post("/upload", h.File.HandleUpload)

	return &Server{
		listenAddr: addr,
		app:        app,
		logger:     logger,
	}
}

// App exposes the fiber app for in-process requests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("server listening", zap.String("addr", s.listenAddr))
	if err := s.app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.logger.Info("server stopped")
	return err
}
