package api

import (
	"strings"
	"time"

	"lnhub/internal/apierr"
	"lnhub/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const localUserID = "user_id"

// requireAuth resolves "Authorization: Bearer <access token>" to a user id
// and stores it in Locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if token == "" {
		return apierr.BadAuth
	}

	userID, err := s.users.ByAccessToken(c.UserContext(), token)
	if err != nil {
		return userError(err)
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}
