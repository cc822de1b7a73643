package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"NewsDigest/internal/domain"
)

type runIngestRequest struct {
	Sources []string `json:"sources"`
	Limit   int      `json:"limit"`
}

// runIngest accepts an optional body; an empty body runs every catalog source.
func (s *Server) runIngest(c echo.Context) error {
	var req runIngestRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(errors.New("invalid request body"))
		}
	}
	if req.Limit < 0 {
		return badRequest(errors.New("limit must not be negative"))
	}

	job, err := s.deps.Jobs.RunIngest(c.Request().Context(), req.Sources, domain.JobParams{Limit: req.Limit})
	if err != nil {
		if errors.Is(err, domain.ErrQueueUnavailable) && job.ID != "" {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"job_id": job.ID,
				"status": job.Status,
				"error":  err.Error(),
			})
		}
		return mapDomainError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) listJobs(c echo.Context) error {
	limit, offset := 20, 0
	if err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return badRequest(err)
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.deps.Jobs.ListJobs(c.Request().Context(), limit, offset)
	if err != nil {
		return mapDomainError(err)
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJob(j))
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": out, "total": total})
}

func (s *Server) getJob(c echo.Context) error {
	job, err := s.deps.Jobs.GetJob(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, toJob(job))
}

func (s *Server) jobDetail(c echo.Context) error {
	detail, err := s.deps.Jobs.JobDetail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, toJobDetail(detail))
}
