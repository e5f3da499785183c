package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/api/middleware"
	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
)

type createUserRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

type nextOperationRequest struct {
	Source string `json:"source" validate:"required,max=32"`
}

type subscriptionUpdateRequest struct {
	UserID           string `json:"user_id" validate:"required,max=64"`
	SubscriptionTier string `json:"subscription_tier" validate:"required,max=24"`
	CreditsToAdd     int64  `json:"credits_to_add" validate:"gte=0"`
	OperationID      string `json:"operation_id" validate:"required,max=128"`
}

type addCreditsRequest struct {
	UserID          string          `json:"user_id" validate:"required,max=64"`
	AmountUSD       decimal.Decimal `json:"amount_usd" validate:"gt=0"`
	OperationID     string          `json:"operation_id" validate:"required,max=128"`
	PaymentMethodID string          `json:"payment_method_id" validate:"required"`
	Metadata        map[string]any  `json:"metadata"`
}

type chargeRequest struct {
	UserID      string          `json:"user_id" validate:"required,max=64"`
	CostUSD     decimal.Decimal `json:"cost_usd" validate:"gt=0"`
	OperationID string          `json:"operation_id" validate:"required,max=128"`
	Metadata    map[string]any  `json:"metadata"`
}

type calculateRequest struct {
	UserID  string          `json:"user_id" validate:"required,max=64"`
	CostUSD decimal.Decimal `json:"cost_usd" validate:"gt=0"`
}

// insufficientResponse — ответ 402 на списание без средств.
type insufficientResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	*ledger.InsufficientFunds
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, created, err := s.deps.Users.Create(r.Context(), middleware.Actor(r.Context()), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeOK(w, status, map[string]any{"user_id": u.ID, "created": created, "created_at": u.CreatedAt})
}

func (s *Server) handleNextOperation(w http.ResponseWriter, r *http.Request) {
	var req nextOperationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id, err := s.deps.Sequence.NextOperationID(r.Context(), req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"operation_id": id})
}

func (s *Server) handleSubscriptionUpdate(w http.ResponseWriter, r *http.Request) {
	var req subscriptionUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Ledger.GrantSubscription(r.Context(), ledger.GrantRequest{
		UserID:       req.UserID,
		TargetTier:   req.SubscriptionTier,
		CreditsToAdd: req.CreditsToAdd,
		OperationID:  req.OperationID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

// handleAddCredits начисляет кредиты за завершённую оплату.
// Повтор уже применённой покупки отдаёт сохранённый результат
// без повторной проверки платежа.
func (s *Server) handleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	prior, applied, err := s.deps.Ledger.ReplayAddCredits(r.Context(), req.OperationID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if applied {
		writeOK(w, http.StatusOK, prior)
		return
	}

	complete, err := s.deps.Payments.IsComplete(r.Context(), req.PaymentMethodID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !complete {
		log.WithFields(log.Fields{
			"user_id":      req.UserID,
			"operation_id": req.OperationID,
		}).Warn("Оплата не завершена, кредиты не начислены")
		writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "оплата не завершена"})
		return
	}

	res, err := s.deps.Ledger.AddCredits(r.Context(), ledger.AddRequest{
		UserID:      req.UserID,
		AmountUSD:   req.AmountUSD,
		OperationID: req.OperationID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	out, err := s.deps.Ledger.ChargeCredits(r.Context(), ledger.ChargeRequest{
		UserID:      req.UserID,
		CostUSD:     req.CostUSD,
		OperationID: req.OperationID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out.Insufficient != nil {
		writeJSON(w, http.StatusPaymentRequired, insufficientResponse{
			Error:             "недостаточно кредитов",
			InsufficientFunds: out.Insufficient,
		})
		return
	}
	writeOK(w, http.StatusOK, out.Charged)
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Ledger.CalculateCharge(r.Context(), req.UserID, req.CostUSD)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, res)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Ledger.GetBalance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, b)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", ledger.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := s.deps.Ledger.ListTransactions(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, page)
}

// queryInt читает целый query-параметр; пустой параметр даёт def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s должен быть целым числом", common.ErrInvalidInput, name)
	}
	return n, nil
}
