package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuschow/payout-system/internal/middleware"
	"github.com/campuschow/payout-system/internal/model"
	"github.com/campuschow/payout-system/internal/service"
)

type transferCall struct {
	transferCode  string
	succeeded     bool
	failureReason string
}

type stubService struct {
	withdrawResult   model.WithdrawalResult
	withdrawVendorID string
	withdrawAmount   float64
	withdrawCalls    int

	transferCalls []transferCall
	transferErr   error

	balanceResp *model.Balance
	balanceErr  error

	withdrawalsResp []model.Withdrawal
	withdrawalsErr  error

	creditErr error

	upsertErr error
}

func (s *stubService) ProcessWithdrawal(ctx context.Context, vendorID string, amount float64) model.WithdrawalResult {
	s.withdrawCalls++
	s.withdrawVendorID = vendorID
	s.withdrawAmount = amount
	return s.withdrawResult
}

func (s *stubService) ApplyTransferResult(ctx context.Context, transferCode string, succeeded bool, failureReason string) error {
	s.transferCalls = append(s.transferCalls, transferCall{
		transferCode:  transferCode,
		succeeded:     succeeded,
		failureReason: failureReason,
	})
	return s.transferErr
}

func (s *stubService) GetBalance(ctx context.Context, vendorID string) (*model.Balance, error) {
	return s.balanceResp, s.balanceErr
}

func (s *stubService) GetWithdrawalsByVendor(ctx context.Context, vendorID string) ([]model.Withdrawal, error) {
	return s.withdrawalsResp, s.withdrawalsErr
}

func (s *stubService) CreditEarnings(ctx context.Context, vendorID string, amount float64, orderID string) error {
	return s.creditErr
}

func (s *stubService) UpsertPayoutProfile(ctx context.Context, p *model.PayoutProfile) error {
	return s.upsertErr
}

const testWebhookSecret = "sk_test_secret"

func newTestHandler(t *testing.T, svc Service, devMode bool) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, testWebhookSecret, devMode)
}

func signBody(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payouts/webhook", bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(signatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhook_WithdrawalSuccess(t *testing.T) {
	svc := &stubService{
		withdrawResult: model.WithdrawalResult{
			Success:      true,
			Message:      "withdrawal initiated",
			WithdrawalID: "w-1",
			TransferCode: "TRF_1",
		},
	}
	h := newTestHandler(t, svc, true)

	body := []byte(`{"vendor_id":"vendor-1","amount":2000}`)
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("success = %v, want true", resp["success"])
	}
	if resp["withdrawal_id"] != "w-1" || resp["transfer_code"] != "TRF_1" {
		t.Fatalf("unexpected response: %v", resp)
	}
	if svc.withdrawVendorID != "vendor-1" || svc.withdrawAmount != 2000 {
		t.Fatalf("service called with %q/%v", svc.withdrawVendorID, svc.withdrawAmount)
	}
}

func TestWebhook_WithdrawalFailure(t *testing.T) {
	svc := &stubService{
		withdrawResult: model.WithdrawalResult{
			Success: false,
			Message: "minimum withdrawal amount is ₦100.00",
		},
	}
	h := newTestHandler(t, svc, true)

	rec := postWebhook(h, []byte(`{"vendor_id":"vendor-1","amount":50}`), "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["success"] != false {
		t.Fatalf("success = %v, want false", resp["success"])
	}
}

func TestWebhook_WithdrawalMissingFields(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, true)

	for _, body := range []string{
		`{"amount":2000}`,
		`{"vendor_id":"vendor-1"}`,
		`{}`,
	} {
		rec := postWebhook(h, []byte(body), "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}

	if svc.withdrawCalls != 0 {
		t.Fatalf("workflow must not be invoked on validation failure")
	}
}

func TestWebhook_TransferSuccessEvent(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, false)

	body := []byte(`{"event":"transfer.success","data":{"transfer_code":"TRF_1"}}`)
	rec := postWebhook(h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(svc.transferCalls) != 1 {
		t.Fatalf("transfer calls = %d, want 1", len(svc.transferCalls))
	}
	call := svc.transferCalls[0]
	if call.transferCode != "TRF_1" || !call.succeeded {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestWebhook_TransferFailedEventCarriesReason(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, false)

	body := []byte(`{"event":"transfer.failed","data":{"transfer_code":"TRF_1","reason":"Account blocked"}}`)
	rec := postWebhook(h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	call := svc.transferCalls[0]
	if call.succeeded || call.failureReason != "Account blocked" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

// Повторная доставка того же события должна отвечать 200 оба раза.
func TestWebhook_DuplicateEventDelivery(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, false)

	body := []byte(`{"event":"transfer.success","data":{"transfer_code":"TRF_1"}}`)
	sig := signBody(body)

	for i := 0; i < 2; i++ {
		rec := postWebhook(h, body, sig)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}
	if len(svc.transferCalls) != 2 {
		t.Fatalf("transfer calls = %d, want 2", len(svc.transferCalls))
	}
}

func TestWebhook_UnknownEvent(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, false)

	body := []byte(`{"event":"something.else","data":{}}`)
	rec := postWebhook(h, body, signBody(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["message"] != "Event not handled" {
		t.Fatalf("message = %q, want Event not handled", resp["message"])
	}
	if len(svc.transferCalls) != 0 || svc.withdrawCalls != 0 {
		t.Fatalf("service must not be called for unknown event")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, false)

	body := []byte(`{"event":"transfer.success","data":{"transfer_code":"TRF_1"}}`)
	rec := postWebhook(h, body, "deadbeef")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Invalid signature" {
		t.Fatalf("error = %q, want Invalid signature", resp["error"])
	}
	if len(svc.transferCalls) != 0 {
		t.Fatalf("service must not be called on bad signature")
	}
}

func TestWebhook_MissingSignatureInProduction(t *testing.T) {
	h := newTestHandler(t, &stubService{}, false)

	body := []byte(`{"event":"transfer.success","data":{"transfer_code":"TRF_1"}}`)
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestWebhook_SignatureSkippedInDevMode(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, true)

	body := []byte(`{"event":"transfer.success","data":{"transfer_code":"TRF_1"}}`)
	rec := postWebhook(h, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestWebhook_MalformedJSON(t *testing.T) {
	h := newTestHandler(t, &stubService{}, true)

	rec := postWebhook(h, []byte(`{not json`), "")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Error processing webhook" {
		t.Fatalf("error = %q", resp["error"])
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubService{}, true)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/payouts/webhook", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "Method not allowed" {
		t.Fatalf("error = %q, want Method not allowed", resp["error"])
	}
}

func TestGetBalance_ViaRouter(t *testing.T) {
	svc := &stubService{
		balanceResp: &model.Balance{Available: 3000, Withdrawn: 2000},
	}
	h := newTestHandler(t, svc, true)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/vendors/vendor-1/balance", nil)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp model.Balance
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available != 3000 || resp.Withdrawn != 2000 {
		t.Fatalf("balance = %+v", resp)
	}
}

func TestGetBalance_ForeignVendorForbidden(t *testing.T) {
	h := newTestHandler(t, &stubService{}, true)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/vendors/vendor-2/balance", nil)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestGetWithdrawals_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{}, true)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/vendors/vendor-1/withdrawals", nil)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestGetWithdrawals_ConvertsAmounts(t *testing.T) {
	processed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		withdrawalsResp: []model.Withdrawal{
			{
				ID:           uuid.New(),
				VendorID:     "vendor-1",
				Amount:       200000,
				Status:       model.WithdrawalStatusCompleted,
				TransferCode: "TRF_1",
				CreatedAt:    processed.Add(-time.Hour),
				ProcessedAt:  &processed,
			},
		},
	}
	h := newTestHandler(t, svc, true)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/vendors/vendor-1/withdrawals", nil)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp []withdrawalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("items = %d, want 1", len(resp))
	}
	if resp[0].Amount != 2000 {
		t.Fatalf("amount = %v naira, want 2000", resp[0].Amount)
	}
	if resp[0].Status != "completed" || resp[0].TransferCode != "TRF_1" {
		t.Fatalf("unexpected item: %+v", resp[0])
	}
	if resp[0].ProcessedAt != processed.Format(time.RFC3339) {
		t.Fatalf("processed_at = %q", resp[0].ProcessedAt)
	}
}

func TestCreditEarnings_MissingOrderID(t *testing.T) {
	h := newTestHandler(t, &stubService{}, true)
	router := h.SetupRouter()

	body := bytes.NewReader([]byte(`{"amount":150.5}`))
	req := httptest.NewRequest(http.MethodPost, "/api/vendors/vendor-1/earnings", body)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpsertProfile_InvalidDetails(t *testing.T) {
	svc := &stubService{upsertErr: service.ErrInvalidBankDetails}
	h := newTestHandler(t, svc, true)
	router := h.SetupRouter()

	body := bytes.NewReader([]byte(`{"account_number":"123","bank_code":"058","account_name":"Mama Put Kitchen"}`))
	req := httptest.NewRequest(http.MethodPut, "/api/vendors/vendor-1/profile", body)
	req.Header.Set("Authorization", "Bearer "+h.authMiddleware.SignVendorID("vendor-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}
