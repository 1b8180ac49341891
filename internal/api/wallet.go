package api

import (
	"lnhub/internal/apierr"
	"lnhub/internal/ledger"
	"lnhub/internal/payment"
	"lnhub/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) balance(c *fiber.Ctx) error {
	ctx := c.UserContext()
	uid := userID(c)

	// Deposits are matched by address, so every account needs one.
	if _, err := s.users.EnsureAddress(ctx, uid); err != nil {
		logger.Warn("Could not ensure deposit address", zap.String("user_id", uid), zap.Error(err))
	}

	bal, err := s.engine.Cached(ctx, uid)
	if err != nil {
		return apierr.GeneralServerError.Wrap(err)
	}
	return c.JSON(fiber.Map{
		"BTC": fiber.Map{"AvailableBalance": ledger.Available(bal)},
	})
}

func (s *Server) payInvoice(c *fiber.Ctx) error {
	var body payInvoiceBody
	if err := s.parse(c, &body); err != nil {
		return err
	}

	res, err := s.payments.Pay(c.UserContext(), payment.Request{
		UserID:  userID(c),
		Invoice: body.Invoice,
		Amount:  int64(body.Amount),
	})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// getTxs lists the user's history, oldest first. offset skips entries from
// the start and a positive limit caps the page.
func (s *Server) getTxs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	offset := c.QueryInt("offset", 0)
	if limit < 0 || offset < 0 {
		return apierr.BadArguments.WithMessage("limit and offset must not be negative")
	}

	txs, err := s.engine.History(c.UserContext(), userID(c))
	if err != nil {
		return apierr.GeneralServerError.Wrap(err)
	}
	return c.JSON(page(txs, offset, limit))
}

func (s *Server) getPending(c *fiber.Ctx) error {
	txs, err := s.engine.Pending(c.UserContext(), userID(c))
	if err != nil {
		return apierr.GeneralServerError.Wrap(err)
	}
	return c.JSON(txs)
}

func (s *Server) faucet(c *fiber.Ctx) error {
	var body faucetBody
	if err := s.parse(c, &body); err != nil {
		return err
	}
	ctx := c.UserContext()
	uid := userID(c)

	err := s.engine.Payments().AddTransaction(ctx, uid, ledger.Transaction{
		Type:  ledger.Faucet,
		Value: int64(body.Amount),
		Memo:  "faucet",
	})
	if err != nil {
		return apierr.GeneralServerError.Wrap(err)
	}
	if err := s.engine.ClearCache(ctx, uid); err != nil {
		logger.Warn("Failed to clear balance cache", zap.String("user_id", uid), zap.Error(err))
	}
	return c.JSON(fiber.Map{"amt": int64(body.Amount)})
}

func page(txs []ledger.Transaction, offset, limit int) []ledger.Transaction {
	if offset >= len(txs) {
		return []ledger.Transaction{}
	}
	txs = txs[offset:]
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs
}
