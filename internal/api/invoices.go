package api

import (
	"lnhub/internal/apierr"

	"github.com/gofiber/fiber/v2"
)

type addInvoiceResponse struct {
	RHash          string `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
	AddIndex       uint64 `json:"add_index"`
	PayReq         string `json:"pay_req"`
}

func (s *Server) addInvoice(c *fiber.Ctx) error {
	if s.cfg.Sunset {
		return apierr.Sunset
	}

	var body addInvoiceBody
	if err := s.parse(c, &body); err != nil {
		return err
	}
	ctx := c.UserContext()

	inv, err := s.invoices.Create(ctx, int64(body.Amount), body.Memo)
	if err != nil {
		return nodeError(err)
	}
	if err := s.invoices.RecordUserInvoice(ctx, inv, userID(c)); err != nil {
		return apierr.From(err)
	}

	return c.JSON(addInvoiceResponse{
		RHash:          inv.PaymentHash,
		PaymentRequest: inv.PaymentRequest,
		AddIndex:       inv.AddIndex,
		PayReq:         inv.PaymentRequest,
	})
}

// checkPayment answers from the ledger first and asks the node only when
// the invoice is not known to be paid yet.
func (s *Server) checkPayment(c *fiber.Ctx) error {
	hash := c.Params("payment_hash")
	ctx := c.UserContext()

	paid, err := s.invoices.IsPaid(ctx, hash)
	if err != nil {
		return apierr.From(err)
	}
	if paid == 0 {
		if paid, err = s.invoices.Sync(ctx, hash); err != nil {
			return nodeError(err)
		}
	}
	return c.JSON(fiber.Map{"paid": paid > 0})
}

func (s *Server) getUserInvoices(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return apierr.BadArguments.WithMessage("limit must not be negative")
	}

	list, err := s.invoices.ListUserInvoices(c.UserContext(), userID(c), limit)
	if err != nil {
		return apierr.From(err)
	}
	return c.JSON(list)
}
