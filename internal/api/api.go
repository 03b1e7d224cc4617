package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"chat-order/internal/auth"
	"chat-order/internal/entity"
	"chat-order/internal/errs"
	"chat-order/internal/service"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

type Catalog interface {
	Products(ctx context.Context) ([]entity.ProductRef, error)
	Price(ctx context.Context, lines []entity.LineRequest) ([]entity.PricingResult, error)
}

type Orders interface {
	PutCart(ctx context.Context, actor entity.Actor, sessionID string, lines []entity.LineRequest) error
	Submit(ctx context.Context, actor entity.Actor, sessionID, key string) (*entity.Order, error)
	Get(ctx context.Context, id string) (*entity.Order, error)
	Route(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error)
	Confirm(ctx context.Context, actor entity.Actor, id string, edits []entity.ItemEdit) (*entity.ConfirmResult, error)
	Reject(ctx context.Context, actor entity.Actor, id, reason string) (*entity.Order, error)
	Cancel(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error)
}

type OrderHandler struct {
	catalog Catalog
	orders  Orders
}

func NewOrderHandler(catalog Catalog, orders Orders) *OrderHandler {
	return &OrderHandler{catalog: catalog, orders: orders}
}

// Register mounts the routes on e. Everything but the health check goes
// through authMiddleware.
func (h *OrderHandler) Register(e *echo.Echo, authMiddleware echo.MiddlewareFunc) {
	e.GET("/health", Health)

	e.GET("/products", h.Products, authMiddleware)
	e.POST("/pricing", h.Price, authMiddleware)
	e.PUT("/carts/:session", h.PutCart, authMiddleware)
	e.POST("/orders", h.Submit, authMiddleware)
	e.GET("/orders/:id", h.GetOrder, authMiddleware)
	e.POST("/orders/:id/route", h.Route, authMiddleware)
	e.POST("/orders/:id/confirm", h.Confirm, authMiddleware)
	e.POST("/orders/:id/reject", h.Reject, authMiddleware)
	e.POST("/orders/:id/cancel", h.Cancel, authMiddleware)
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"service": "order-authority",
		"time":    time.Now().Format(time.RFC3339),
	})
}

// Products lists the catalog --> GET /products
func (h *OrderHandler) Products(c echo.Context) error {
	products, err := h.catalog.Products(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, products)
}

// Price prices cart lines --> POST /pricing
func (h *OrderHandler) Price(c echo.Context) error {
	req := entity.PricingRequest{}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	results, err := h.catalog.Price(c.Request().Context(), req.Lines)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entity.PricingResponse{Results: results})
}

// PutCart replaces a session draft --> PUT /carts/:session
func (h *OrderHandler) PutCart(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	req := entity.CartRequest{}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	if err := h.orders.PutCart(c.Request().Context(), actor, c.Param("session"), req.Lines); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Submit turns a session draft into an order --> POST /orders
func (h *OrderHandler) Submit(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	req := entity.SubmitRequest{}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}

	order, err := h.orders.Submit(c.Request().Context(), actor, req.SessionID, c.Request().Header.Get("Idempotent-Key"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, order)
}

// GetOrder --> GET /orders/:id. Only distributors see orders they did not place.
func (h *OrderHandler) GetOrder(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	order, err := h.orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if actor.Role != entity.RoleDistributor && order.PlacedBy.ID != actor.ID {
		return respondError(c, service.ErrOrderNotFound)
	}
	return c.JSON(http.StatusOK, order)
}

// Route --> POST /orders/:id/route
func (h *OrderHandler) Route(c echo.Context) error {
	return h.transition(c, "Order routed to distributor review", func(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error) {
		return h.orders.Route(ctx, actor, id)
	})
}

// Confirm --> POST /orders/:id/confirm
func (h *OrderHandler) Confirm(c echo.Context) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	req := entity.ConfirmRequest{}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}

	res, err := h.orders.Confirm(c.Request().Context(), actor, c.Param("id"), req.Edits)
	if err != nil {
		return respondError(c, err)
	}
	if res.Notifications == nil {
		res.Notifications = []string{}
	}
	return c.JSON(http.StatusOK, res)
}

// Reject --> POST /orders/:id/reject
func (h *OrderHandler) Reject(c echo.Context) error {
	req := entity.RejectRequest{}
	if err := c.Bind(&req); err != nil {
		return invalidPayload(c)
	}
	return h.transition(c, "Order rejected", func(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error) {
		return h.orders.Reject(ctx, actor, id, req.Reason)
	})
}

// Cancel --> POST /orders/:id/cancel
func (h *OrderHandler) Cancel(c echo.Context) error {
	return h.transition(c, "Order cancelled", func(ctx context.Context, actor entity.Actor, id string) (*entity.Order, error) {
		return h.orders.Cancel(ctx, actor, id)
	})
}

func (h *OrderHandler) transition(c echo.Context, message string, call func(context.Context, entity.Actor, string) (*entity.Order, error)) error {
	actor, err := auth.ActorFrom(c)
	if err != nil {
		return respondError(c, err)
	}
	order, err := call(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, entity.TransitionResult{Success: true, Message: message, Order: *order})
}

func invalidPayload(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, entity.ErrorResponse{Error: "Invalid request payload", Code: errs.KindValidation.String()})
}

// respondError renders err as an ErrorResponse with a status matching its kind.
func respondError(c echo.Context, err error) error {
	body := entity.ErrorResponse{Error: err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Code = e.Kind.String()
		body.Stage = e.Stage
		// the stage travels in its own field
		body.Error = (&errs.Error{Op: e.Op, Message: e.Message, Err: e.Err}).Error()
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNotPlacer), errors.Is(err, service.ErrNotDistributor), errors.Is(err, service.ErrNotSessionOwner):
		status = http.StatusForbidden
	case e == nil:
		logger.Error().Err(err).Msgf("%s %s failed", c.Request().Method, c.Path())
		body = entity.ErrorResponse{Error: "internal error", Code: "internal"}
	case e.Kind == errs.KindValidation:
		status = http.StatusBadRequest
	case e.Kind == errs.KindState, e.Kind == errs.KindConflict:
		status = http.StatusConflict
	case e.Kind == errs.KindTransport:
		status = http.StatusBadGateway
	}
	return c.JSON(status, body)
}
