// Package api exposes the management HTTP surface: directive CRUD,
// client and group upserts, manual event and metric submission, firing
// history, and engagement feedback.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/roach88/coachflow/internal/domain"
	"github.com/roach88/coachflow/internal/store"
)

// Submitter feeds records into the evaluation pipeline. Implemented by
// the engine.
type Submitter interface {
	SubmitEvent(ctx context.Context, ev domain.Event) error
	SubmitSnapshot(ctx context.Context, snap domain.MetricSnapshot) error
}

// FeedbackRecorder stores engagement signals for firing records.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, recordID string, signal float64) error
}

type appValidator struct {
	validate *validator.Validate
}

func (v *appValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Server is the management API.
type Server struct {
	addr     string
	router   *echo.Echo
	store    *store.Store
	engine   Submitter
	feedback FeedbackRecorder
}

// NewServer builds the API around the store and engine.
func NewServer(addr string, st *store.Store, engine Submitter, feedback FeedbackRecorder) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Validator = &appValidator{validate: validator.New()}

	s := &Server{
		addr:     addr,
		router:   e,
		store:    st,
		engine:   engine,
		feedback: feedback,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.router.Group("/v1")

	v1.PUT("/directives/:id", s.putDirective)
	v1.GET("/directives/:id", s.getDirective)
	v1.GET("/directives", s.listDirectives)
	v1.DELETE("/directives/:id", s.deleteDirective)
	v1.POST("/directives/:id/activate", s.setDirectiveActive(true))
	v1.POST("/directives/:id/deactivate", s.setDirectiveActive(false))
	v1.GET("/directives/:id/firings", s.listFirings)

	v1.PUT("/clients/:id", s.putClient)
	v1.GET("/clients/:id", s.getClient)
	v1.PUT("/groups/:id", s.putGroup)
	v1.POST("/groups/:id/archive", s.archiveGroup)

	v1.POST("/events", s.postEvent)
	v1.POST("/metrics", s.postMetric)
	v1.POST("/firings/:id/feedback", s.postFeedback)
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	err := s.router.Start(s.addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.router.Shutdown(ctx)
}

// Router exposes the echo instance for httptest-driven tests.
func (s *Server) Router() *echo.Echo {
	return s.router
}
