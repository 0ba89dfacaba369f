package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/service"
)

// AMMService is what the AMM handler needs from the service layer.
type AMMService interface {
	Buy(ctx context.Context, marketID, traderID string, outcome domain.Outcome, shares float64) (service.AMMBuyResult, error)
	BuyWithBudget(ctx context.Context, marketID, traderID string, outcome domain.Outcome, budget decimal.Decimal) (service.AMMBuyResult, error)
	QuoteShares(ctx context.Context, marketID string, outcome domain.Outcome, shares float64) (service.AMMQuote, error)
	QuoteBudget(ctx context.Context, marketID string, outcome domain.Outcome, budget decimal.Decimal) (service.AMMQuote, error)
}

// AMMHandler serves purchases from LMSR markets.
type AMMHandler struct {
	amm    AMMService
	logger *slog.Logger
}

func NewAMMHandler(amm AMMService, logger *slog.Logger) *AMMHandler {
	return &AMMHandler{amm: amm, logger: logger}
}

type ammBuyBody struct {
	TraderID string  `json:"trader_id"`
	Outcome  string  `json:"outcome"`
	Shares   float64 `json:"shares"`
}

type ammBudgetBody struct {
	TraderID string          `json:"trader_id"`
	Outcome  string          `json:"outcome"`
	Budget   decimal.Decimal `json:"budget"`
}

// Buy purchases an exact number of shares.
// POST /api/markets/{id}/amm/buy
func (h *AMMHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var body ammBuyBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := parseTraderOutcome(body.TraderID, body.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "amm buy", err)
		return
	}
	res, err := h.amm.Buy(r.Context(), r.PathValue("id"), body.TraderID, outcome, body.Shares)
	if err != nil {
		writeServiceError(w, r, h.logger, "amm buy", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// BuyWithBudget spends up to budget on as many shares as it affords.
// POST /api/markets/{id}/amm/budget
func (h *AMMHandler) BuyWithBudget(w http.ResponseWriter, r *http.Request) {
	var body ammBudgetBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	outcome, err := parseTraderOutcome(body.TraderID, body.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "amm budget buy", err)
		return
	}
	res, err := h.amm.BuyWithBudget(r.Context(), r.PathValue("id"), body.TraderID, outcome, body.Budget)
	if err != nil {
		writeServiceError(w, r, h.logger, "amm budget buy", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Quote prices a purchase without executing it. Exactly one of shares or
// budget is required.
// GET /api/markets/{id}/amm/quote?outcome=A&shares=5
// GET /api/markets/{id}/amm/quote?outcome=A&budget=25
func (h *AMMHandler) Quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome, err := domain.ParseOutcome(q.Get("outcome"))
	if err != nil {
		writeServiceError(w, r, h.logger, "amm quote", err)
		return
	}
	shares, budget := q.Get("shares"), q.Get("budget")
	marketID := r.PathValue("id")

	var quote service.AMMQuote
	switch {
	case shares != "" && budget == "":
		n, perr := strconv.ParseFloat(shares, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid shares %q", shares))
			return
		}
		quote, err = h.amm.QuoteShares(r.Context(), marketID, outcome, n)
	case budget != "" && shares == "":
		b, perr := decimal.NewFromString(budget)
		if perr != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid budget %q", budget))
			return
		}
		quote, err = h.amm.QuoteBudget(r.Context(), marketID, outcome, b)
	default:
		writeError(w, http.StatusBadRequest, "exactly one of shares or budget is required")
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "amm quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func parseTraderOutcome(traderID, outcome string) (domain.Outcome, error) {
	if traderID == "" {
		return "", fmt.Errorf("%w: trader_id is required", domain.ErrInvalidTrader)
	}
	return domain.ParseOutcome(outcome)
}
