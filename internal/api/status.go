package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/tides/internal/broker"
	"github.com/wonny/tides/pkg/logger"
)

// StatusHandler exposes broker state for the running strategies.
type StatusHandler struct {
	broker     broker.Broker
	strategies []string
	logger     *logger.Logger
}

// NewStatusHandler creates the handler for a fixed set of strategies.
func NewStatusHandler(b broker.Broker, strategies []string, log *logger.Logger) *StatusHandler {
	return &StatusHandler{broker: b, strategies: strategies, logger: log}
}

func (h *StatusHandler) known(name string) bool {
	for _, s := range h.strategies {
		if s == name {
			return true
		}
	}
	return false
}

// ListStrategies returns the running strategy names.
// GET /api/v1/strategies
func (h *StatusHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": h.strategies,
	})
}

// GetPositions returns one strategy's asset holdings.
// GET /api/v1/positions/{strategy}
func (h *StatusHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["strategy"]
	if !h.known(name) {
		respondError(w, http.StatusNotFound, "Unknown strategy")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":  name,
		"positions": h.broker.Position(name),
	})
}

// GetPortfolio returns one strategy's valuation series.
// GET /api/v1/portfolio/{strategy}
func (h *StatusHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["strategy"]
	if !h.known(name) {
		respondError(w, http.StatusNotFound, "Unknown strategy")
		return
	}

	series := h.broker.PortfolioSeries(name)
	out := make([]map[string]interface{}, 0, len(series))
	for _, p := range series {
		out = append(out, map[string]interface{}{
			"ts":       p.TS.Format(time.RFC3339),
			"port_val": p.Value,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategy":  name,
		"portfolio": out,
	})
}

// GetOrders returns one strategy's orders, open and finished.
// GET /api/v1/orders/{strategy}
func (h *StatusHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["strategy"]
	if !h.known(name) {
		respondError(w, http.StatusNotFound, "Unknown strategy")
		return
	}

	orders := h.broker.Orders(name)
	out := make([]map[string]interface{}, 0, len(orders))
	for _, o := range orders {
		out = append(out, map[string]interface{}{
			"id":          o.ID,
			"exchange_id": o.ExchangeID,
			"custom_id":   o.CustomID,
			"symbol":      o.Symbol,
			"side":        o.Side,
			"kind":        o.Kind,
			"qty":         o.Qty,
			"limit_px":    o.LimitPrice,
			"status":      o.Status,
			"qty_filled":  o.QtyFilled,
			"avg_px":      o.AvgPx,
			"fee":         o.Fee,
			"created_at":  o.CreatedAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategy": name,
		"orders":   out,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
