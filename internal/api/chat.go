package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/chatbot"
	"github.com/timeprofiler/internal/platform"
	"github.com/timeprofiler/internal/platform/slack"
	"github.com/timeprofiler/pkg/models"
)

// ChatResponse is the body returned for an inbound chat message.
type ChatResponse struct {
	models.Response
	Flow      models.Flow `json:"flow,omitempty"`
	Delivered bool        `json:"delivered"`
}

func (s *Server) handleChat(c echo.Context) error {
	name := models.Platform(c.Param("platform"))

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	// Slack verifies the endpoint once with a challenge that carries no user.
	if name == models.PlatformSlack {
		if challenge, ok := slack.URLVerification(body); ok {
			return c.JSON(http.StatusOK, map[string]string{"challenge": challenge})
		}
	}

	raw := platform.NewRawMessage(c.Request().Header, body, time.Now())
	res, err := s.deps.Engine.HandleMessage(c.Request().Context(), name, raw)
	out := ChatResponse{Response: res.Response, Flow: res.Flow, Delivered: res.Delivered}
	if err != nil {
		if errors.Is(err, chatbot.ErrUnknownPlatform) {
			return c.JSON(http.StatusNotFound, out)
		}
		log.Error().Err(err).Str("platform", string(name)).Msg("Chat message not processed")
		return c.JSON(http.StatusServiceUnavailable, out)
	}
	if res.Ignored {
		return c.NoContent(http.StatusOK)
	}
	if errors.Is(res.Err, chatbot.ErrAuthentication) {
		return c.JSON(http.StatusUnauthorized, out)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) webResponses(c echo.Context) error {
	if s.deps.Web == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "web chat is disabled"})
	}
	userID := c.Param("user_id")

	if s.deps.Web.RequiresToken() {
		tokenUser, err := s.deps.Web.VerifyToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil || tokenUser != userID {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"responses": s.deps.Web.Mailbox().Drain(userID),
	})
}
