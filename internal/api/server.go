package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/codingofficer/internal/batch"
	"github.com/codingofficer/internal/config"
	"github.com/codingofficer/internal/export"
	"github.com/codingofficer/internal/notify"
	"github.com/codingofficer/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// Store is everything the control surface needs from the persistent store
type Store interface {
	batch.PromptStore
	batch.RunRecorder
	export.Source
	RecentRuns(ctx context.Context, n int) ([]models.RunRecord, error)
}

// Deps are the collaborators a Server is built from
type Deps struct {
	Config    *config.Config
	Store     Store
	Completer batch.Completer
	Hub       *notify.Hub
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	cfg        *config.Config
	store      Store
	hub        *notify.Hub
	exporter   *export.Exporter
	dispatcher *batch.Dispatcher
	// dispatchErr is set when the configuration does not allow coding runs
	dispatchErr error

	// runs outlive the request that started them
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("HTTP request")
			return nil
		},
	}))

	runCtx, cancelRun := context.WithCancel(context.Background())
	server := &Server{
		echo:      e,
		port:      deps.Config.Server.Port,
		cfg:       deps.Config,
		store:     deps.Store,
		hub:       deps.Hub,
		exporter:  export.NewExporter(deps.Store, deps.Hub, export.OptionsFromConfig(deps.Config)),
		runCtx:    runCtx,
		cancelRun: cancelRun,
	}

	server.dispatchErr = config.ValidateForDispatch(deps.Config)
	if server.dispatchErr == nil {
		server.dispatcher, server.dispatchErr = batch.NewDispatcher(
			batch.OptionsFromConfig(deps.Config), deps.Store, deps.Completer, deps.Hub, deps.Store)
	}
	if server.dispatchErr != nil {
		log.Warn().Err(server.dispatchErr).Msg("Coding runs are disabled until the configuration is fixed")
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.GET("/status", s.getStatus)
	v1.POST("/coding/start", s.startCoding)
	v1.POST("/coding/stop", s.stopCoding)
	v1.GET("/notifications", s.getNotifications)
	v1.POST("/export", s.exportResults)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is done, then stops any active run, waits for it to
// wind down and shuts the listener down
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("Control server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.cancelRun()
			return fmt.Errorf("control server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.dispatcher != nil && s.dispatcher.Stop() {
		log.Info().Msg("Waiting for the active coding run to stop")
		if _, err := s.dispatcher.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Coding run did not stop before shutdown")
		}
	}
	s.cancelRun()

	return s.echo.Shutdown(shutdownCtx)
}
