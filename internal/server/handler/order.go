package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// OrderService defines the methods the order handler requires from the
// engine.
type OrderService interface {
	CreateOrder(ctx context.Context, intent domain.OrderIntent) (string, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	GetOrder(orderID string) (domain.ParentOrder, error)
	ListOrders() []domain.ParentOrder
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

// placeOrderRequest is the JSON body for order submission.
type placeOrderRequest struct {
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	LimitPrice     float64 `json:"limit_price,omitempty"`
	Urgency        string  `json:"urgency,omitempty"`
	MaxSlippageBps float64 `json:"max_slippage_bps,omitempty"`
	PreferDark     bool    `json:"prefer_dark,omitempty"`
	ArrivalPrice   float64 `json:"arrival_price,omitempty"`
}

// placeOrderResponse wraps the order submission response.
type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.ParentOrder `json:"orders"`
}

// ListOrders returns in-memory parent orders, newest first.
// GET /api/orders?limit=50
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.orders.ListOrders()
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	opts := parseListOpts(r)
	if opts.Limit < len(orders) {
		orders = orders[:opts.Limit]
	}
	if orders == nil {
		orders = []domain.ParentOrder{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns a single parent order with its children.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	order, err := h.orders.GetOrder(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// PlaceOrder routes a new order from an intent JSON body.
// POST /api/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	intent := domain.OrderIntent{
		Symbol:         req.Symbol,
		Side:           domain.Side(req.Side),
		Quantity:       req.Quantity,
		LimitPrice:     req.LimitPrice,
		Urgency:        domain.Urgency(req.Urgency),
		MaxSlippageBps: req.MaxSlippageBps,
		PreferDark:     req.PreferDark,
		ArrivalPrice:   req.ArrivalPrice,
	}
	if intent.Urgency == "" {
		intent.Urgency = domain.UrgencyMedium
	}

	id, err := h.orders.CreateOrder(r.Context(), intent)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidIntent):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNoEligibleVenues):
			writeError(w, http.StatusUnprocessableEntity, "no eligible venues for symbol "+req.Symbol)
		default:
			h.logger.ErrorContext(r.Context(), "handler: place order failed",
				slog.String("symbol", req.Symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, placeOrderResponse{OrderID: id})
}

// CancelOrder cancels a working parent order.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	cancelled, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, "order already terminal")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id":  id,
		"cancelled": cancelled,
	})
}
