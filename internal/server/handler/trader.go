package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/service"
)

// TraderService is what the trader handler needs from the service layer.
type TraderService interface {
	Register(ctx context.Context, req service.RegisterRequest) (domain.Trader, bool, error)
	GetTrader(ctx context.Context, id string) (domain.Trader, error)
	ListFills(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Fill, error)
}

// TraderHandler serves trader registration, balances and fills.
type TraderHandler struct {
	traders TraderService
	logger  *slog.Logger
}

func NewTraderHandler(traders TraderService, logger *slog.Logger) *TraderHandler {
	return &TraderHandler{traders: traders, logger: logger}
}

type registerBody struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Register creates a trader, or returns the existing one with 200.
// POST /api/traders
func (h *TraderHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, created, err := h.traders.Register(r.Context(), service.RegisterRequest{
		ID: body.ID, Name: body.Name, Email: body.Email,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "register trader", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, t)
}

// GetTrader returns a trader and balance.
// GET /api/traders/{id}
func (h *TraderHandler) GetTrader(w http.ResponseWriter, r *http.Request) {
	t, err := h.traders.GetTrader(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get trader", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// ListFills returns a trader's fills, newest first.
// GET /api/traders/{id}/fills
func (h *TraderHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fills, err := h.traders.ListFills(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list fills", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(fills, opts))
}
