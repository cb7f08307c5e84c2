package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/pkg/models"
)

const (
	defaultTrendingDays       = 7
	defaultTrendingMinReports = 3
)

func (s *Server) trendingProblems(c echo.Context) error {
	days, err := intParam(c, "days", defaultTrendingDays)
	if err != nil || days <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
	}
	minReports, err := intParam(c, "min_reports", defaultTrendingMinReports)
	if err != nil || minReports < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "min_reports must be a non-negative integer"})
	}

	list, err := s.deps.Aggregator.TrendingProblems(c.Request().Context(), days, minReports)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load trending problems")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load trending problems"})
	}
	if list == nil {
		list = []*models.ProblemRecord{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"days":        days,
		"min_reports": minReports,
		"problems":    list,
	})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
