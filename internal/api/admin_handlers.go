package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"serotonyl.ru/credit-ledger/internal/api/middleware"
	"serotonyl.ru/credit-ledger/internal/features/plans"
)

type exchangeRateRequest struct {
	BaseRate int64 `json:"base_rate" validate:"gt=0,lte=1000000000"`
}

// exchangeRateResponse повторяет формат ответа админки: old/new base_rate.
type exchangeRateResponse struct {
	OldBaseRate int64  `json:"old_base_rate"`
	NewBaseRate int64  `json:"new_base_rate"`
	UpdatedAt   string `json:"updated_at"`
}

type planRequest struct {
	Name            string          `json:"name" validate:"required,max=24"`
	MonthlyCost     decimal.Decimal `json:"monthly_cost" validate:"gte=0"`
	FixedCost       decimal.Decimal `json:"fixed_cost" validate:"gte=0"`
	CreditsIncluded int64           `json:"credits_included" validate:"gte=0"`
	BonusCredits    int64           `json:"bonus_credits" validate:"gte=0"`
	Multiplier      decimal.Decimal `json:"multiplier" validate:"gt=0"`
	PurchaseRate    decimal.Decimal `json:"purchase_rate" validate:"gte=1"`
	Active          *bool           `json:"active"`
}

func (s *Server) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req exchangeRateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	change, err := s.deps.Sequence.UpdateBaseRate(r.Context(), middleware.Actor(r.Context()), req.BaseRate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, exchangeRateResponse{
		OldBaseRate: change.OldRate,
		NewBaseRate: change.NewRate,
		UpdatedAt:   change.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Plans.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (s *Server) handleUpsertPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	saved, err := s.deps.Plans.Upsert(r.Context(), middleware.Actor(r.Context()), &plans.Plan{
		Tier:            chi.URLParam(r, "tier"),
		Name:            req.Name,
		MonthlyCost:     req.MonthlyCost,
		FixedCost:       req.FixedCost,
		CreditsIncluded: req.CreditsIncluded,
		BonusCredits:    req.BonusCredits,
		Multiplier:      req.Multiplier,
		PurchaseRate:    req.PurchaseRate,
		Active:          active,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, saved)
}
