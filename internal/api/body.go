package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lnhub/internal/apierr"
	"lnhub/internal/invoices"
	"lnhub/internal/lock"
	"lnhub/internal/users"

	"github.com/gofiber/fiber/v2"
)

// sats is an amount in satoshis. Wallet clients send it either as a JSON
// number or as a numeric string.
type sats int64

func (s *sats) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(b), `"`)
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", raw)
	}
	*s = sats(n)
	return nil
}

type createBody struct {
	PartnerID   string `json:"partnerid" form:"partnerid" validate:"max=64"`
	AccountType string `json:"accounttype" form:"accounttype" validate:"omitempty,oneof=common test"`
}

type authBody struct {
	Login        string `json:"login" form:"login"`
	Password     string `json:"password" form:"password"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

type addInvoiceBody struct {
	Amount sats   `json:"amt" form:"amt" validate:"gt=0"`
	Memo   string `json:"memo" form:"memo" validate:"max=639"`
}

type payInvoiceBody struct {
	Invoice string `json:"invoice" form:"invoice" validate:"required"`
	Amount  sats   `json:"amount" form:"amount" validate:"gte=0"`
}

type faucetBody struct {
	Amount sats `json:"amt" form:"amt" validate:"gt=0"`
}

// parse decodes and validates the request body into dst.
func (s *Server) parse(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return apierr.BadArguments.Wrap(err)
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return apierr.BadArguments.Wrap(err)
	}
	return nil
}

// userError maps directory errors onto the taxonomy.
func userError(err error) error {
	switch {
	case errors.Is(err, users.ErrBadAuth), errors.Is(err, users.ErrUserNotFound):
		return apierr.BadAuth
	case errors.Is(err, lock.ErrLockHeld):
		return apierr.GeneralServerError.Wrap(err)
	default:
		return apierr.From(err)
	}
}

// nodeError maps invoice ledger errors onto the taxonomy.
func nodeError(err error) error {
	if errors.Is(err, invoices.ErrNode) {
		return apierr.NodeError.Wrap(err)
	}
	return apierr.From(err)
}
