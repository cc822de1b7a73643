package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/usecase"
)

func (s *Server) listDigests(c echo.Context) error {
	limit, offset := 30, 0
	if err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return badRequest(err)
	}
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	if offset < 0 {
		offset = 0
	}
	digests, err := s.deps.Digests.List(c.Request().Context(), limit, offset)
	if err != nil {
		return mapDomainError(err)
	}
	out := make([]digestResponse, 0, len(digests))
	for _, d := range digests {
		out = append(out, toDigest(d))
	}
	return c.JSON(http.StatusOK, map[string]any{"digests": out})
}

func (s *Server) getDigest(c echo.Context) error {
	day, err := usecase.ParseDay(c.Param("day"))
	if err != nil {
		return badRequest(err)
	}
	digest, err := s.deps.Digests.Get(c.Request().Context(), day)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, toDigest(digest))
}

// buildDigest reads selection params from the query on top of the configured defaults.
func (s *Server) buildDigest(c echo.Context) error {
	day, err := usecase.ParseDay(c.Param("day"))
	if err != nil {
		return badRequest(err)
	}
	params := s.deps.Digests.Defaults()
	var force bool
	err = echo.QueryParamsBinder(c).
		Int("top_n", &params.TopN).
		Int("min_business", &params.MinBusiness).
		Int("min_dfo", &params.MinDFO).
		Int("min_interest", &params.MinInterest).
		Int("prefer_days", &params.PreferDays).
		Int("max_lookback_days", &params.MaxLookbackDays).
		Bool("exclude_used", &params.ExcludeUsed).
		Strings("exclude_terms", &params.ExcludeTerms).
		Bool("force", &force).
		BindError()
	if err != nil {
		return badRequest(err)
	}
	if params.TopN < 1 || params.TopN > 50 {
		return badRequest(errors.New("top_n must be between 1 and 50"))
	}
	if params.PreferDays < 0 || params.MaxLookbackDays < 0 || params.MaxLookbackDays > 365 {
		return badRequest(errors.New("invalid day window"))
	}

	digest, err := s.deps.Digests.Build(c.Request().Context(), day, params, force)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, toDigest(digest))
}

type scriptRequest struct {
	Segments []domain.ScriptSegment `json:"segments"`
	Model    string                 `json:"model"`
}

// digestScript attaches the posted segments, or generates a script when the body is empty.
func (s *Server) digestScript(c echo.Context) error {
	day, err := usecase.ParseDay(c.Param("day"))
	if err != nil {
		return badRequest(err)
	}
	ctx := c.Request().Context()

	var digest domain.Digest
	if c.Request().ContentLength != 0 {
		var req scriptRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(errors.New("invalid request body"))
		}
		digest, err = s.deps.Digests.AttachScript(ctx, day, req.Segments, req.Model)
	} else {
		var force bool
		if err := echo.QueryParamsBinder(c).Bool("force", &force).BindError(); err != nil {
			return badRequest(err)
		}
		digest, err = s.deps.Digests.GenerateScript(ctx, day, force)
	}
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(http.StatusOK, toDigest(digest))
}
