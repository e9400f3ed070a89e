package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// PoolSource defines the methods the liquidity handler requires from the
// engine.
type PoolSource interface {
	GetLiquidityPool(symbol string) (*domain.LiquidityPool, error)
}

// LiquidityHandler serves aggregated liquidity endpoints.
type LiquidityHandler struct {
	pools  PoolSource
	logger *slog.Logger
}

// NewLiquidityHandler creates a LiquidityHandler with the given source and
// logger.
func NewLiquidityHandler(pools PoolSource, logger *slog.Logger) *LiquidityHandler {
	return &LiquidityHandler{pools: pools, logger: logger}
}

// GetPool returns the current aggregated liquidity pool for a symbol.
// GET /api/liquidity/{symbol}
func (h *LiquidityHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol path parameter required")
		return
	}

	pool, err := h.pools.GetLiquidityPool(symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no liquidity pool for symbol "+symbol)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get pool failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get liquidity pool")
		return
	}

	writeJSON(w, http.StatusOK, pool)
}
