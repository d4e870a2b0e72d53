package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"greencart-sim/internal/sim"
	"greencart-sim/internal/store"
)

var validate = validator.New()

type startRequest struct {
	Name      string           `json:"name" validate:"max=200"`
	Duration  int              `json:"duration" validate:"required,gt=0"`
	DriverIDs []string         `json:"driverIds" validate:"required,min=1,dive,required"`
	OrderIDs  []string         `json:"orderIds" validate:"required,min=1,dive,required"`
	Params    *sim.ParamsInput `json:"params"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body.", "error": err.Error()})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing required simulation parameters.", "error": describeValidation(err)})
		return
	}
	a, _ := actorFrom(c)
	runID, err := s.ctl.Start(c.Request.Context(), sim.StartRequest{
		Name:            req.Name,
		DurationMinutes: req.Duration,
		DriverIDs:       req.DriverIDs,
		OrderIDs:        req.OrderIDs,
		Params:          req.Params,
		ActorID:         a.ID,
	})
	switch {
	case errors.Is(err, sim.ErrInvalidConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid simulation configuration.", "error": err.Error()})
		return
	case errors.Is(err, sim.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Service is shutting down."})
		return
	case err != nil:
		s.log.Error("start simulation", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to start simulation", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Simulation started", "runId": runID, "status": "started"})
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func (s *Server) handleStop(c *gin.Context) {
	runID := c.Param("runId")
	stopped, err := s.ctl.Stop(c.Request.Context(), runID)
	if !stopped {
		c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("Simulation %s not found or already stopped.", runID)})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Simulation stopped but results could not be saved.", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Simulation %s stopped.", runID)})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status(c.Param("runId")))
}

// parseFilter reads the list query string. Dates are RFC 3339 or YYYY-MM-DD;
// a bare dateTo covers the whole day.
func parseFilter(c *gin.Context) (store.Filter, gin.H, error) {
	var f store.Filter
	echo := gin.H{}
	if v := c.Query("status"); v != "" {
		st := store.Status(v)
		if !st.Valid() {
			return f, nil, fmt.Errorf("unknown status %q", v)
		}
		f.Status = st
		echo["status"] = v
	}
	if v := c.Query("dateFrom"); v != "" {
		t, _, err := parseDate(v)
		if err != nil {
			return f, nil, fmt.Errorf("dateFrom: %w", err)
		}
		f.From = t
		echo["dateFrom"] = v
	}
	if v := c.Query("dateTo"); v != "" {
		t, dateOnly, err := parseDate(v)
		if err != nil {
			return f, nil, fmt.Errorf("dateTo: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = t
		echo["dateTo"] = v
	}
	if v := c.Query("createdBy"); v != "" {
		f.CreatedBy = v
		echo["createdBy"] = v
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, nil, fmt.Errorf("limit must be a positive integer")
		}
		f.Limit = n
		echo["limit"] = f.EffectiveLimit()
	}
	return f, echo, nil
}

func parseDate(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid date %q", v)
	}
	return t, true, nil
}

func (s *Server) handleList(c *gin.Context) {
	f, echo, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid filter.", "error": err.Error()})
		return
	}
	runs, err := s.ctl.ListRuns(c.Request.Context(), f)
	if err != nil {
		s.log.Error("list simulations", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch simulation history", "error": err.Error()})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"simulations": runs, "total": len(runs), "filters": echo})
}

// lookup writes the 404/500 response itself and returns nil in that case.
func (s *Server) lookup(c *gin.Context) *store.Run {
	runID := c.Param("runId")
	rec, err := s.ctl.GetRun(c.Request.Context(), runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("Simulation %s not found.", runID)})
		return nil
	case err != nil:
		s.log.Error("get simulation", "run_id", runID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to fetch simulation details", "error": err.Error()})
		return nil
	}
	return rec
}

func (s *Server) handleGet(c *gin.Context) {
	if rec := s.lookup(c); rec != nil {
		c.JSON(http.StatusOK, rec)
	}
}

// resultsView is the results projection of a run record.
type resultsView struct {
	RunID          string         `json:"runId"`
	Name           string         `json:"name"`
	Status         store.Status   `json:"status"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        *time.Time     `json:"endTime,omitempty"`
	Duration       int            `json:"duration"`
	Results        *store.Results `json:"results"`
	TelemetryCount int            `json:"telemetryCount"`
	EventsCount    int            `json:"eventsCount"`
}

func (s *Server) handleResults(c *gin.Context) {
	rec := s.lookup(c)
	if rec == nil {
		return
	}
	c.JSON(http.StatusOK, resultsView{
		RunID:          rec.RunID,
		Name:           rec.Name,
		Status:         rec.Status,
		StartTime:      rec.StartTime,
		EndTime:        rec.EndTime,
		Duration:       rec.Duration,
		Results:        rec.Results,
		TelemetryCount: rec.TelemetryCount,
		EventsCount:    rec.EventsCount,
	})
}
