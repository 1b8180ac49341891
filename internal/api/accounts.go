package api

import (
	"lnhub/internal/apierr"
	"lnhub/internal/users"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) create(c *fiber.Ctx) error {
	if s.cfg.Sunset {
		return apierr.Sunset
	}

	var body createBody
	if err := s.parse(c, &body); err != nil {
		return err
	}
	accountType := body.AccountType
	if accountType == "" {
		accountType = users.AccountCommon
	}

	creds, _, err := s.users.Create(c.UserContext(), body.PartnerID, accountType)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(creds)
}

// auth exchanges either login/password or a refresh token for a new token
// pair. The previous pair stops working.
func (s *Server) auth(c *fiber.Ctx) error {
	var body authBody
	if err := s.parse(c, &body); err != nil {
		return apierr.BadAuth
	}
	ctx := c.UserContext()

	var (
		uid string
		err error
	)
	switch {
	case body.Login != "" && body.Password != "":
		uid, err = s.users.Authenticate(ctx, body.Login, body.Password)
	case body.RefreshToken != "":
		uid, err = s.users.ByRefreshToken(ctx, body.RefreshToken)
	default:
		return apierr.BadAuth
	}
	if err != nil {
		return userError(err)
	}

	tokens, err := s.users.IssueTokens(ctx, uid)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(tokens)
}

// getBTC returns the user's deposit address, generating it on first use.
func (s *Server) getBTC(c *fiber.Ctx) error {
	addr, err := s.users.EnsureAddress(c.UserContext(), userID(c))
	if err != nil {
		return userError(err)
	}
	return c.JSON([]fiber.Map{{"address": addr}})
}
