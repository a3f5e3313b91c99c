package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/campuschow/payout-system/internal/signature"
)

// signatureHeader — заголовок с подписью вебхука платёжного шлюза.
const signatureHeader = "X-Paystack-Signature"

const (
	eventTransferSuccess = "transfer.success"
	eventTransferFailed  = "transfer.failed"
)

// webhookPayload покрывает оба режима входящего запроса: событие шлюза
// ({event, data}) и прямой запрос на вывод средств ({vendor_id, amount}).
type webhookPayload struct {
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	VendorID string          `json:"vendor_id"`
	Amount   *float64        `json:"amount"`
}

type transferEventData struct {
	TransferCode string `json:"transfer_code"`
	Reason       string `json:"reason"`
}

// Webhook — единая точка входа POST: принимает события перевода от шлюза и
// прямые запросы на вывод средств, различая их по форме тела.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	// Подпись проверяется по необработанным байтам тела: повторная
	// сериализация разобранного JSON может изменить порядок ключей.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing webhook"})
		return
	}

	if !h.devMode {
		if !signature.Verify(body, r.Header.Get(signatureHeader), h.webhookSecret) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing webhook"})
		return
	}

	if payload.Event != "" {
		h.handleGatewayEvent(w, r, &payload)
		return
	}

	h.handleWithdrawalRequest(w, r, &payload)
}

func (h *Handler) handleGatewayEvent(w http.ResponseWriter, r *http.Request, payload *webhookPayload) {
	switch payload.Event {
	case eventTransferSuccess, eventTransferFailed:
		var data transferEventData
		if len(payload.Data) > 0 {
			if err := json.Unmarshal(payload.Data, &data); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing webhook"})
				return
			}
		}

		succeeded := payload.Event == eventTransferSuccess
		if err := h.service.ApplyTransferResult(r.Context(), data.TransferCode, succeeded, data.Reason); err != nil {
			h.logger.Error("apply transfer result error",
				zap.Error(err), zap.String("event", payload.Event), zap.String("transferCode", data.TransferCode))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error processing webhook"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		// Шлюз добавляет новые типы событий без предупреждения:
		// незнакомое событие — не ошибка.
		writeJSON(w, http.StatusOK, map[string]string{"message": "Event not handled"})
	}
}

func (h *Handler) handleWithdrawalRequest(w http.ResponseWriter, r *http.Request, payload *webhookPayload) {
	if payload.VendorID == "" || payload.Amount == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "vendor_id and amount are required",
		})
		return
	}

	result := h.service.ProcessWithdrawal(r.Context(), payload.VendorID, *payload.Amount)
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": result.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       result.Message,
		"withdrawal_id": result.WithdrawalID,
		"transfer_code": result.TransferCode,
	})
}
