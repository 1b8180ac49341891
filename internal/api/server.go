// Package api is the HTTP surface wallet clients talk to.
//
// Every failure is answered with HTTP 200 and a body of the form
// {"error": true, "code": <int>, "message": <string>}; clients branch on the
// code, not the status.
package api

import (
	"errors"
	"time"

	"lnhub/internal/apierr"
	"lnhub/internal/invoices"
	"lnhub/internal/ledger"
	"lnhub/internal/lnd"
	"lnhub/internal/payment"
	"lnhub/internal/users"
	"lnhub/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// GraphTTL is how long a DescribeGraph snapshot is reused for /getchaninfo.
const GraphTTL = 60 * time.Second

type Config struct {
	BodyLimit int
	// Faucet registers POST /faucet. Never enable it in production.
	Faucet bool
	// Sunset refuses new accounts and new invoices.
	Sunset bool
}

// Deps are the services behind the handlers.
type Deps struct {
	Users    *users.Directory
	Invoices *invoices.Ledger
	Engine   *ledger.Engine
	Payments *payment.Workflow
	Node     lnd.NodeClient
}

type Server struct {
	app      *fiber.App
	cfg      Config
	users    *users.Directory
	invoices *invoices.Ledger
	engine   *ledger.Engine
	payments *payment.Workflow
	node     lnd.NodeClient
	graph    *expirable.LRU[string, *lnd.Graph]
	validate *validator.Validate
}

func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		users:    deps.Users,
		invoices: deps.Invoices,
		engine:   deps.Engine,
		payments: deps.Payments,
		node:     deps.Node,
		graph:    expirable.NewLRU[string, *lnd.Graph](1, nil, GraphTTL),
		validate: validator.New(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "lnhub",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New(), requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Post("/create", s.create)
	s.app.Post("/auth", s.auth)

	authed := s.requireAuth
	s.app.Post("/addinvoice", authed, s.addInvoice)
	s.app.Post("/payinvoice", authed, s.payInvoice)
	s.app.Get("/balance", authed, s.balance)
	s.app.Get("/getbtc", authed, s.getBTC)
	s.app.Get("/checkpayment/:payment_hash", authed, s.checkPayment)
	s.app.Get("/gettxs", authed, s.getTxs)
	s.app.Get("/getuserinvoices", authed, s.getUserInvoices)
	s.app.Get("/getpending", authed, s.getPending)
	s.app.Get("/getinfo", authed, s.getInfo)
	s.app.Get("/decodeinvoice", authed, s.decodeInvoice)
	s.app.Get("/queryroutes/:source/:dest/:amt", authed, s.queryRoutes)
	s.app.Get("/getchaninfo/:chanid", authed, s.getChanInfo)
	if s.cfg.Faucet {
		s.app.Post("/faucet", authed, s.faucet)
	}
}

// App exposes the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	logger.Info("HTTP server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// errorHandler renders anything a handler returns as a taxonomy error with
// status 200. Bare fiber errors (unknown route, oversized or unparseable
// body) are reported as bad arguments.
func errorHandler(c *fiber.Ctx, err error) error {
	var e *apierr.Error
	var fe *fiber.Error
	switch {
	case errors.As(err, &e):
	case errors.As(err, &fe):
		e = apierr.BadArguments.WithMessage(fe.Message)
	default:
		e = apierr.From(err)
	}

	if e.Err != nil {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.Int("code", int(e.Code)),
			zap.Error(e.Err),
		)
	}
	return c.Status(fiber.StatusOK).JSON(errorBody(e))
}

func errorBody(e *apierr.Error) fiber.Map {
	return fiber.Map{
		"error":   true,
		"code":    e.Code,
		"message": e.Message,
	}
}
