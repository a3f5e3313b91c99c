// Package handler содержит HTTP-обработчики API сервиса выплат.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/campuschow/payout-system/internal/middleware"
	"github.com/campuschow/payout-system/internal/model"
	"github.com/campuschow/payout-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ProcessWithdrawal(ctx context.Context, vendorID string, amount float64) model.WithdrawalResult
	ApplyTransferResult(ctx context.Context, transferCode string, succeeded bool, failureReason string) error
	GetBalance(ctx context.Context, vendorID string) (*model.Balance, error)
	GetWithdrawalsByVendor(ctx context.Context, vendorID string) ([]model.Withdrawal, error)
	CreditEarnings(ctx context.Context, vendorID string, amount float64, orderID string) error
	UpsertPayoutProfile(ctx context.Context, p *model.PayoutProfile) error
}

// Handler реализует HTTP-обработчики API сервиса выплат.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	webhookSecret  string
	devMode        bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, webhookSecret string, devMode bool) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		webhookSecret:  webhookSecret,
		devMode:        devMode,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) currentVendor(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenVendor, ok := middleware.GetVendorIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": http.StatusText(http.StatusUnauthorized)})
		return "", false
	}

	vendorID := chi.URLParam(r, "vendorID")
	if vendorID == "" || vendorID != tokenVendor {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": http.StatusText(http.StatusForbidden)})
		return "", false
	}

	return vendorID, true
}

// GetBalance возвращает баланс вендора.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.currentVendor(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), vendorID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.String("vendorID", vendorID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type withdrawalResponse struct {
	ID           string  `json:"id"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	TransferCode string  `json:"transfer_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
	ProcessedAt  string  `json:"processed_at,omitempty"`
}

// GetWithdrawals возвращает историю заявок вендора на вывод средств.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.currentVendor(w, r)
	if !ok {
		return
	}

	withdrawals, err := h.service.GetWithdrawalsByVendor(r.Context(), vendorID)
	if err != nil {
		h.logger.Error("get withdrawals error", zap.Error(err), zap.String("vendorID", vendorID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	if len(withdrawals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]withdrawalResponse, 0, len(withdrawals))
	for _, wd := range withdrawals {
		item := withdrawalResponse{
			ID:           wd.ID.String(),
			Amount:       float64(wd.Amount) / 100,
			Status:       string(wd.Status),
			TransferCode: wd.TransferCode,
			ErrorMessage: wd.ErrorMessage,
			CreatedAt:    wd.CreatedAt.Format(time.RFC3339),
		}
		if wd.ProcessedAt != nil {
			item.ProcessedAt = wd.ProcessedAt.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, resp)
}

type creditRequest struct {
	Amount  float64 `json:"amount"`
	OrderID string  `json:"order_id"`
}

// CreditEarnings зачисляет выручку по заказу на кошелёк вендора.
func (h *Handler) CreditEarnings(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.currentVendor(w, r)
	if !ok {
		return
	}

	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order_id is required"})
		return
	}

	if err := h.service.CreditEarnings(r.Context(), vendorID, req.Amount, req.OrderID); err != nil {
		if errors.Is(err, service.ErrInvalidAmount) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("credit earnings error", zap.Error(err), zap.String("vendorID", vendorID), zap.String("orderID", req.OrderID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type profileRequest struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	AccountName   string `json:"account_name"`
}

// UpsertProfile сохраняет банковские реквизиты вендора для выплат.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.currentVendor(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": http.StatusText(http.StatusBadRequest)})
		return
	}

	err := h.service.UpsertPayoutProfile(r.Context(), &model.PayoutProfile{
		VendorID:      vendorID,
		AccountNumber: req.AccountNumber,
		BankCode:      req.BankCode,
		AccountName:   req.AccountName,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidBankDetails) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Error("upsert profile error", zap.Error(err), zap.String("vendorID", vendorID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
