// Package ingress is a thin HTTP façade translating requests into Command
// API calls. The full spec places GraphQL/HTTP ingress out of scope; this
// package exists only so the Command API has a concrete way to be
// reached from outside the process. It is grounded on
// stronghold/internal/server/server.go's fiber app construction and
// middleware stack, trimmed of the x402 payment-gate middleware (this
// engine has no billing concern of its own) and retargeted at the
// outgoing-payment Command API instead of the scan endpoints.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"

	"github.com/rafikipay/outpay/internal/command"
	"github.com/rafikipay/outpay/internal/money"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
)

// Server wraps a fiber app over the Command API.
type Server struct {
	app    *fiber.App
	engine *command.Engine
	store  *store.Store
	logger *slog.Logger
}

// Config controls the HTTP server's listening behavior.
type Config struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds the ingress server. st is used only for the readiness probe;
// all payment mutations and reads go through engine.
func New(engine *command.Engine, st *store.Store, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:      "outpay engine",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	s := &Server{app: app, engine: engine, store: st, logger: logger}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Idempotency-Key"},
	}))
}

func (s *Server) setupRoutes() {
	s.app.Get("/health/live", s.liveness)
	s.app.Get("/health/ready", s.readiness)

	payments := s.app.Group("/v1/outgoing-payments")
	payments.Post("/", s.create)
	payments.Get("/:id", s.get)
	payments.Get("/", s.list)
	payments.Post("/:id/approve", s.approve)
	payments.Post("/:id/cancel", s.cancel)
	payments.Post("/:id/requote", s.requote)
	payments.Post("/:id/fund", s.fund)

	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	})
}

// Start begins serving HTTP on addr. Blocks until the listener exits.
func (s *Server) Start(addr string) error {
	s.logger.Info("ingress listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) liveness(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "alive"})
}

func (s *Server) readiness(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready", "reason": "database_unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// createRequest mirrors the tagged Intent union at the wire boundary: the
// caller sends exactly one of fixedSend/invoice, same shape as
// payment.Intent.
type createRequest struct {
	SuperAccountID string `json:"superAccountId"`
	ClientToken    string `json:"clientToken"`
	AutoApprove    bool   `json:"autoApprove"`
	FixedSend      *struct {
		PaymentPointer string       `json:"paymentPointer"`
		AmountToSend   money.Amount `json:"amountToSend"`
	} `json:"fixedSend,omitempty"`
	Invoice *struct {
		InvoiceURL string `json:"invoiceUrl"`
	} `json:"invoice,omitempty"`
}

func (s *Server) create(c fiber.Ctx) error {
	var req createRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	superAccountID, err := uuid.Parse(req.SuperAccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid superAccountId"})
	}

	intent := payment.Intent{AutoApprove: req.AutoApprove}
	if req.FixedSend != nil {
		intent.FixedSend = &payment.FixedSendIntent{
			PaymentPointer: req.FixedSend.PaymentPointer,
			AmountToSend:   req.FixedSend.AmountToSend,
		}
	}
	if req.Invoice != nil {
		intent.Invoice = &payment.InvoiceIntent{InvoiceURL: req.Invoice.InvoiceURL}
	}

	p, err := s.engine.Create(c.Context(), superAccountID, req.ClientToken, intent)
	if err != nil {
		return writeCreateError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) get(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	p, err := s.engine.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "payment not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch payment"})
	}
	return c.JSON(p)
}

type listQuery struct {
	AccountID string `query:"accountId"`
	After     string `query:"after"`
	Limit     int    `query:"limit"`
}

func (s *Server) list(c fiber.Ctx) error {
	var q listQuery
	if err := c.Bind().Query(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query parameters"})
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}

	accountID, err := uuid.Parse(q.AccountID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid accountId"})
	}

	page, info, err := s.engine.ListByAccount(c.Context(), accountID, q.After, q.Limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list payments"})
	}
	return c.JSON(fiber.Map{"payments": page, "pageInfo": info})
}

func (s *Server) approve(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	p, err := s.engine.Approve(c.Context(), id)
	if err != nil {
		return writeStateError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) cancel(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	p, err := s.engine.Cancel(c.Context(), id)
	if err != nil {
		return writeStateError(c, err)
	}
	return c.JSON(p)
}

func (s *Server) requote(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	p, err := s.engine.Requote(c.Context(), id)
	if err != nil {
		return writeStateError(c, err)
	}
	return c.JSON(p)
}

type fundRequest struct {
	Amount     money.Amount `json:"amount"`
	TransferID string       `json:"transferId"`
}

func (s *Server) fund(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	var req fundRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	p, err := s.engine.Fund(c.Context(), id, req.Amount, req.TransferID)
	if err != nil {
		return writeStateError(c, err)
	}
	return c.JSON(p)
}

func writeCreateError(c fiber.Ctx, err error) error {
	var cerr *payment.CreateError
	if errors.As(err, &cerr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": cerr.Code, "message": cerr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create payment"})
}

func writeStateError(c fiber.Ctx, err error) error {
	var serr *payment.StateError
	if errors.As(err, &serr) {
		status := fiber.StatusConflict
		if serr.Code == payment.StateErrorUnknownPayment {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"error": serr.Code, "message": serr.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "command failed"})
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": message})
}
