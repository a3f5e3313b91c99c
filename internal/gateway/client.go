// Package gateway предоставляет клиент для платёжного шлюза Paystack.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// accountType — единственный поддерживаемый тип счёта получателя.
	accountType = "nuban"
	// currency — рабочая валюта платформы.
	currency = "NGN"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// RecipientResult содержит итог создания получателя перевода.
type RecipientResult struct {
	OK            bool
	RecipientCode string
	Message       string
}

// TransferResult содержит итог инициирования перевода.
type TransferResult struct {
	OK           bool
	TransferCode string
	Message      string
}

// NewClient создаёт клиент шлюза с указанным адресом и секретным ключом.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type gatewayResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RecipientCode string `json:"recipient_code"`
		TransferCode  string `json:"transfer_code"`
	} `json:"data"`
}

// CreateRecipient создаёт получателя перевода по банковским реквизитам вендора.
func (c *Client) CreateRecipient(ctx context.Context, accountNumber, bankCode, accountName string) (RecipientResult, error) {
	body := map[string]any{
		"type":           accountType,
		"name":           accountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       currency,
	}

	resp, err := c.post(ctx, "/transferrecipient", body)
	if err != nil {
		return RecipientResult{}, err
	}

	return RecipientResult{
		OK:            resp.Status,
		RecipientCode: resp.Data.RecipientCode,
		Message:       resp.Message,
	}, nil
}

// InitiateTransfer инициирует перевод на получателя. Сумма amount передаётся
// в найрах и конвертируется в кобо. Повторов и ключей идемпотентности нет:
// запрос выполняется ровно один раз.
func (c *Client) InitiateTransfer(ctx context.Context, amount float64, recipientCode, reason string) (TransferResult, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    int64(math.Round(amount * 100)),
		"recipient": recipientCode,
		"reason":    reason,
	}

	resp, err := c.post(ctx, "/transfer", body)
	if err != nil {
		return TransferResult{}, err
	}

	return TransferResult{
		OK:           resp.Status,
		TransferCode: resp.Data.TransferCode,
		Message:      resp.Message,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) (*gatewayResponse, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("gateway client not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var result gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
