package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roach88/coachflow/internal/domain"
)

func (s *Server) putDirective(c echo.Context) error {
	var d domain.Directive
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.ID = c.Param("id")

	if err := s.store.PutDirective(c.Request().Context(), d); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
		}
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) getDirective(c echo.Context) error {
	d, err := s.store.GetDirective(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if d == nil {
		return echo.NewHTTPError(http.StatusNotFound, "directive not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) listDirectives(c echo.Context) error {
	mentorID := c.QueryParam("mentor_id")
	if mentorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mentor_id is required")
	}
	directives, err := s.store.ListDirectives(c.Request().Context(), mentorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, directives)
}

func (s *Server) deleteDirective(c echo.Context) error {
	if err := s.store.DeleteDirective(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setDirectiveActive(active bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := s.store.SetDirectiveActive(c.Request().Context(), c.Param("id"), active); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func (s *Server) listFirings(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	firings, err := s.store.ListFirings(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, firings)
}

func (s *Server) putClient(c echo.Context) error {
	var client domain.Client
	if err := c.Bind(&client); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	client.ID = c.Param("id")
	if client.MentorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mentor_id is required")
	}

	if err := s.store.PutClient(c.Request().Context(), client); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

func (s *Server) getClient(c echo.Context) error {
	client, err := s.store.GetClient(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if client == nil {
		return echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return c.JSON(http.StatusOK, client)
}

func (s *Server) putGroup(c echo.Context) error {
	var g domain.ClientGroup
	if err := c.Bind(&g); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g.ID = c.Param("id")
	if g.MentorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mentor_id is required")
	}

	if err := s.store.PutGroup(c.Request().Context(), g); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, g)
}

// archiveGroup archives the group and deactivates every directive scoped
// to it in one transaction.
func (s *Server) archiveGroup(c echo.Context) error {
	if err := s.store.ArchiveGroup(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type eventRequest struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id" validate:"required"`
	Type      string         `json:"type" validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) postEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ev := domain.Event{
		ID:        req.ID,
		ClientID:  req.ClientID,
		Type:      req.Type,
		Timestamp: req.Timestamp,
		Payload:   req.Payload,
	}
	if err := s.engine.SubmitEvent(c.Request().Context(), ev); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

type metricRequest struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id" validate:"required"`
	MetricID  string    `json:"metric_id" validate:"required"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) postMetric(c echo.Context) error {
	var req metricRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	snap := domain.MetricSnapshot{
		ID:        req.ID,
		ClientID:  req.ClientID,
		MetricID:  req.MetricID,
		Value:     req.Value,
		Timestamp: req.Timestamp,
	}
	if err := s.engine.SubmitSnapshot(c.Request().Context(), snap); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

type feedbackRequest struct {
	Signal float64 `json:"signal" validate:"min=0,max=1"`
}

func (s *Server) postFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if err := s.feedback.RecordFeedback(c.Request().Context(), c.Param("id"), req.Signal); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
