// Package service реализует бизнес-логику сервиса выплат.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuschow/payout-system/internal/gateway"
	"github.com/campuschow/payout-system/internal/model"
	"github.com/campuschow/payout-system/internal/repository"
	"github.com/campuschow/payout-system/internal/validation"
)

// minWithdrawalKobo — минимальная сумма вывода, ₦100.
const minWithdrawalKobo int64 = 100 * 100

// transferReason — назначение платежа, передаваемое шлюзу при переводе.
const transferReason = "CampusChow vendor payout"

// ErrInvalidBankDetails возвращается при некорректных банковских реквизитах.
var ErrInvalidBankDetails = errors.New("invalid bank details")

// ErrInvalidAmount возвращается при неположительной сумме зачисления.
var ErrInvalidAmount = errors.New("amount must be positive")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetPayoutProfile(ctx context.Context, vendorID string) (*model.PayoutProfile, error)
	UpsertPayoutProfile(ctx context.Context, p *model.PayoutProfile) error
	SetRecipientCode(ctx context.Context, vendorID, recipientCode string) error
	GetWallet(ctx context.Context, vendorID string) (*model.Wallet, error)
	CreditWallet(ctx context.Context, vendorID string, amountKobo int64, referenceType, referenceID string) error
	DebitWallet(ctx context.Context, vendorID string, amountKobo, expectedWithdrawnKobo int64, referenceType, referenceID string) error
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	MarkWithdrawalProcessing(ctx context.Context, id uuid.UUID, transferCode string) error
	MarkWithdrawalFailed(ctx context.Context, id uuid.UUID, message string) error
	ApplyTransferEvent(ctx context.Context, transferCode string, target model.WithdrawalStatus, failureReason string) (bool, error)
	GetWithdrawalsByVendor(ctx context.Context, vendorID string) ([]model.Withdrawal, error)
}

// Gateway описывает контракт платёжного шлюза, используемый сервисом.
type Gateway interface {
	CreateRecipient(ctx context.Context, accountNumber, bankCode, accountName string) (gateway.RecipientResult, error)
	InitiateTransfer(ctx context.Context, amount float64, recipientCode, reason string) (gateway.TransferResult, error)
}

// Service содержит бизнес-логику сервиса выплат.
type Service struct {
	repo    Repository
	gateway Gateway
	logger  *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом шлюза.
func NewService(repo Repository, gw Gateway, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		gateway: gw,
		logger:  logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func formatNaira(kobo int64) string {
	return fmt.Sprintf("₦%.2f", float64(kobo)/100)
}

func failure(message string) model.WithdrawalResult {
	return model.WithdrawalResult{Success: false, Message: message}
}

// ProcessWithdrawal обрабатывает заявку вендора на вывод средств: проверяет
// профиль и остаток, создаёт заявку, при необходимости создаёт получателя в
// шлюзе, инициирует перевод и списывает средства с кошелька. Шаги выполняются
// последовательно без общей транзакции; шлюзовые вызовы не повторяются.
func (s *Service) ProcessWithdrawal(ctx context.Context, vendorID string, amount float64) model.WithdrawalResult {
	amountKobo := int64(math.Round(amount * 100))

	profile, err := s.repo.GetPayoutProfile(ctx, vendorID)
	if err != nil {
		if errors.Is(err, repository.ErrPayoutProfileNotFound) {
			return failure("no payout profile configured: add your bank details before withdrawing")
		}
		return failure("failed to load payout profile: " + err.Error())
	}

	wallet, err := s.repo.GetWallet(ctx, vendorID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return failure("wallet not found")
		}
		return failure("failed to load wallet: " + err.Error())
	}

	// Проверки остатка и минимума идут до любой записи: отклонённая заявка
	// не оставляет строки в withdrawals.
	available := wallet.Available()
	if amountKobo > available {
		return failure(fmt.Sprintf("insufficient balance: available %s", formatNaira(available)))
	}
	if amountKobo < minWithdrawalKobo {
		return failure(fmt.Sprintf("minimum withdrawal amount is %s", formatNaira(minWithdrawalKobo)))
	}

	w := &model.Withdrawal{
		ID:        uuid.New(),
		VendorID:  vendorID,
		Amount:    amountKobo,
		Status:    model.WithdrawalStatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return failure("failed to create withdrawal: " + err.Error())
	}

	recipientCode := profile.RecipientCode
	if recipientCode == "" {
		res, err := s.gateway.CreateRecipient(ctx, profile.AccountNumber, profile.BankCode, profile.AccountName)
		if err != nil || !res.OK {
			msg := res.Message
			if err != nil {
				msg = err.Error()
			}
			s.failWithdrawal(ctx, w.ID, msg)
			return failure("failed to create transfer recipient: " + msg)
		}

		recipientCode = res.RecipientCode

		// Код получателя кешируется в профиле и переиспользуется всеми
		// последующими выводами. Сбой записи не прерывает вывод: код
		// будет создан заново в следующий раз.
		if err := s.repo.SetRecipientCode(ctx, vendorID, recipientCode); err != nil {
			s.logger.Warn("failed to cache recipient code",
				zap.String("vendorID", vendorID), zap.Error(err))
		}
	}

	transfer, err := s.gateway.InitiateTransfer(ctx, amount, recipientCode, transferReason)
	if err != nil || !transfer.OK {
		msg := transfer.Message
		if err != nil {
			msg = err.Error()
		}
		s.failWithdrawal(ctx, w.ID, msg)
		return failure("failed to initiate transfer: " + msg)
	}

	if err := s.repo.MarkWithdrawalProcessing(ctx, w.ID, transfer.TransferCode); err != nil {
		s.logger.Error("transfer initiated but withdrawal status update failed",
			zap.String("withdrawalID", w.ID.String()),
			zap.String("transferCode", transfer.TransferCode),
			zap.Error(err))
		return failure("failed to update withdrawal: " + err.Error())
	}

	// Списание оптимистичное: выполняется сразу после инициирования перевода,
	// до фактического зачисления получателю. Компенсации при сбое нет —
	// заявка остаётся в processing, перевод уже отправлен. Точка расширения
	// для сверки, политика компенсации здесь сознательно не выбирается.
	if err := s.repo.DebitWallet(ctx, vendorID, amountKobo, wallet.WithdrawnEarnings, "withdrawal", w.ID.String()); err != nil {
		s.logger.Error("transfer initiated but wallet debit failed",
			zap.String("vendorID", vendorID),
			zap.String("withdrawalID", w.ID.String()),
			zap.Error(err))
		return failure("failed to debit wallet: " + err.Error())
	}

	return model.WithdrawalResult{
		Success:      true,
		Message:      "withdrawal initiated",
		WithdrawalID: w.ID.String(),
		TransferCode: transfer.TransferCode,
	}
}

func (s *Service) failWithdrawal(ctx context.Context, id uuid.UUID, message string) {
	if err := s.repo.MarkWithdrawalFailed(ctx, id, message); err != nil {
		s.logger.Error("failed to mark withdrawal failed",
			zap.String("withdrawalID", id.String()), zap.Error(err))
	}
}

// ApplyTransferResult применяет итог перевода из вебхука шлюза. Заявка ищется
// по коду перевода; отсутствующая или уже терминальная заявка — не ошибка.
func (s *Service) ApplyTransferResult(ctx context.Context, transferCode string, succeeded bool, failureReason string) error {
	target := model.WithdrawalStatusCompleted
	if !succeeded {
		target = model.WithdrawalStatusFailed
	}

	applied, err := s.repo.ApplyTransferEvent(ctx, transferCode, target, failureReason)
	if err != nil {
		return err
	}

	if !applied {
		s.logger.Info("transfer event ignored",
			zap.String("transferCode", transferCode), zap.String("target", string(target)))
	}

	return nil
}

// GetBalance возвращает баланс вендора в найрах. Отсутствие кошелька
// трактуется как нулевой баланс: кошелёк создаётся первым зачислением.
func (s *Service) GetBalance(ctx context.Context, vendorID string) (*model.Balance, error) {
	wallet, err := s.repo.GetWallet(ctx, vendorID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &model.Balance{}, nil
		}
		return nil, err
	}

	return &model.Balance{
		Available: float64(wallet.Available()) / 100,
		Withdrawn: float64(wallet.WithdrawnEarnings) / 100,
	}, nil
}

// GetWithdrawalsByVendor возвращает историю заявок вендора.
func (s *Service) GetWithdrawalsByVendor(ctx context.Context, vendorID string) ([]model.Withdrawal, error) {
	return s.repo.GetWithdrawalsByVendor(ctx, vendorID)
}

// CreditEarnings зачисляет выручку по заказу на кошелёк вендора.
func (s *Service) CreditEarnings(ctx context.Context, vendorID string, amount float64, orderID string) error {
	amountKobo := int64(math.Round(amount * 100))
	if amountKobo <= 0 {
		return ErrInvalidAmount
	}

	return s.repo.CreditWallet(ctx, vendorID, amountKobo, "order", orderID)
}

// UpsertPayoutProfile сохраняет банковские реквизиты вендора. Смена реквизитов
// сбрасывает закешированный код получателя.
func (s *Service) UpsertPayoutProfile(ctx context.Context, p *model.PayoutProfile) error {
	if !validation.IsValidNUBAN(p.BankCode, p.AccountNumber) || p.AccountName == "" {
		return ErrInvalidBankDetails
	}

	return s.repo.UpsertPayoutProfile(ctx, p)
}
