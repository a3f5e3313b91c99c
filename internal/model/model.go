// Package model содержит доменные сущности сервиса выплат.
package model

import (
	"time"

	"github.com/google/uuid"
)

// PayoutProfile содержит банковские реквизиты вендора для выплат.
type PayoutProfile struct {
	VendorID      string
	AccountNumber string
	BankCode      string
	AccountName   string
	RecipientCode string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Wallet описывает кошелёк вендора. Суммы хранятся в кобо.
type Wallet struct {
	VendorID          string
	TotalEarnings     int64
	WithdrawnEarnings int64
	UpdatedAt         time.Time
}

// Available возвращает доступный для вывода остаток в кобо.
func (w *Wallet) Available() int64 {
	return w.TotalEarnings - w.WithdrawnEarnings
}

// WithdrawalStatus описывает статус обработки заявки на вывод средств.
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
)

// CanTransitionTo сообщает, допустим ли переход из текущего статуса в next.
// Статусы completed и failed терминальные: из них переходов нет.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalStatusPending:
		return next == WithdrawalStatusProcessing || next == WithdrawalStatusFailed
	case WithdrawalStatusProcessing:
		return next == WithdrawalStatusCompleted || next == WithdrawalStatusFailed
	default:
		return false
	}
}

// IsTerminal сообщает, является ли статус терминальным.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusFailed
}

// Withdrawal описывает заявку на вывод средств вендора. Сумма хранится в кобо.
type Withdrawal struct {
	ID           uuid.UUID
	VendorID     string
	Amount       int64
	Status       WithdrawalStatus
	TransferCode string
	ErrorMessage string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

// TransactionType описывает направление движения средств по кошельку.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// WalletTransaction описывает запись в журнале операций по кошельку.
type WalletTransaction struct {
	ID            int64
	VendorID      string
	Type          TransactionType
	Amount        int64
	ReferenceType string
	ReferenceID   string
	CreatedAt     time.Time
}

// Balance содержит доступный остаток и сумму всех выводов в найрах.
type Balance struct {
	Available float64 `json:"available"`
	Withdrawn float64 `json:"withdrawn"`
}

// WithdrawalResult содержит итог обработки заявки на вывод средств.
type WithdrawalResult struct {
	Success      bool
	Message      string
	WithdrawalID string
	TransferCode string
}
