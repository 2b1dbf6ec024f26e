package handlers

import (
	"net/http"

	"spotarb/internal/exchange"
	"spotarb/internal/models"
)

// GatewayLister - реестр шлюзов
type GatewayLister interface {
	All() []exchange.Gateway
}

// DealSnapshotter - движок решений
type DealSnapshotter interface {
	Snapshot() []models.Deal
}

// GatewayStatus - состояние одного шлюза
type GatewayStatus struct {
	Code     string             `json:"code"`
	State    string             `json:"state"`
	Balances map[string]float64 `json:"balances"`
}

// StatusHandler отдаёт живое состояние демона: шлюзы и удерживаемые сделки
type StatusHandler struct {
	gateways GatewayLister
	deals    DealSnapshotter
}

func NewStatusHandler(gateways GatewayLister, deals DealSnapshotter) *StatusHandler {
	return &StatusHandler{gateways: gateways, deals: deals}
}

// GetGateways - GET /api/v1/gateways
func (h *StatusHandler) GetGateways(w http.ResponseWriter, r *http.Request) {
	if h.gateways == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "gateways not configured", "")
		return
	}

	all := h.gateways.All()
	out := make([]GatewayStatus, 0, len(all))
	for _, g := range all {
		balances := g.Balances()
		if balances == nil {
			balances = map[string]float64{}
		}
		out = append(out, GatewayStatus{
			Code:     g.Code(),
			State:    g.State().String(),
			Balances: balances,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetDeals - GET /api/v1/deals, удерживаемая сделка по каждой паре
func (h *StatusHandler) GetDeals(w http.ResponseWriter, r *http.Request) {
	if h.deals == nil {
		writeError(w, http.StatusServiceUnavailable, CodeUnavailable, "engine not configured", "")
		return
	}
	deals := h.deals.Snapshot()
	if deals == nil {
		deals = []models.Deal{}
	}
	writeJSON(w, http.StatusOK, deals)
}
