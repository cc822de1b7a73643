package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/usecase"
)

func bindNewsQuery(c echo.Context) (usecase.NewsQuery, error) {
	q := usecase.DefaultNewsQuery()
	err := echo.QueryParamsBinder(c).
		Int("hours", &q.WindowHours).
		Int("min_business", &q.MinBusiness).
		Int("min_dfo", &q.MinDFO).
		Bool("require_company", &q.RequireCompany).
		Bool("exclude_flagged", &q.ExcludeFlagged).
		Int("limit", &q.Limit).
		BindError()
	if err != nil {
		return q, err
	}
	if q.WindowHours < 1 || q.WindowHours > 24*30 {
		return q, errors.New("hours must be between 1 and 720")
	}
	if q.Limit < 1 || q.Limit > 500 {
		return q, errors.New("limit must be between 1 and 500")
	}
	return q, nil
}

func (s *Server) listNews(c echo.Context) error {
	q, err := bindNewsQuery(c)
	if err != nil {
		return badRequest(err)
	}
	items, err := s.deps.News.List(c.Request().Context(), q)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"items": toNews(items), "count": len(items)})
}

func (s *Server) brief(c echo.Context) error {
	q, err := bindNewsQuery(c)
	if err != nil {
		return badRequest(err)
	}
	text, n, err := s.deps.News.Brief(c.Request().Context(), q)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"text": text, "items": n})
}

func (s *Server) enqueueAnalysis(c echo.Context) error {
	if s.deps.Analysis == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "analysis queue is not configured")
	}
	q, err := bindNewsQuery(c)
	if err != nil {
		return badRequest(err)
	}
	ids, err := s.deps.Analysis.EnqueueCandidates(c.Request().Context(), q)
	if err != nil {
		return mapDomainError(err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return c.JSON(http.StatusAccepted, map[string]any{"enqueued": len(ids), "item_ids": ids})
}

func (s *Server) deleteItem(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return badRequest(errors.New("invalid item id"))
	}
	if err := s.deps.News.DeleteItem(c.Request().Context(), id); err != nil {
		return mapDomainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteByDay(c echo.Context) error {
	day, err := usecase.ParseDay(c.QueryParam("day"))
	if err != nil {
		return badRequest(err)
	}
	n, err := s.deps.News.DeleteByDay(c.Request().Context(), day)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"day": day.Format(domain.DayLayout), "deleted": n})
}

func (s *Server) purgeItems(c echo.Context) error {
	before, err := usecase.ParseDay(c.QueryParam("before"))
	if err != nil {
		return badRequest(err)
	}
	n, err := s.deps.News.Purge(c.Request().Context(), before)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"before": before.Format(domain.DayLayout), "deleted": n})
}
