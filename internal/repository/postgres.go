// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/campuschow/payout-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrPayoutProfileNotFound возвращается, если у вендора нет платёжного профиля.
var (
	ErrPayoutProfileNotFound = errors.New("payout profile not found")
	// ErrWalletNotFound возвращается, если кошелёк вендора не найден.
	ErrWalletNotFound = errors.New("wallet not found")
	// ErrWithdrawalNotFound возвращается, если заявка на вывод не найдена.
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	// ErrInsufficientBalance возвращается при попытке списания суммы, превышающей остаток.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrWalletConflict возвращается, если остаток изменился с момента чтения.
	ErrWalletConflict = errors.New("wallet changed since read")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заявки.
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withReadRetry повторяет чтение при временных сбоях. Записи не ретраятся:
// повтор записи после неоднозначного сбоя может задвоить денежную операцию.
func (r *PostgresRepository) withReadRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetPayoutProfile возвращает платёжный профиль вендора.
func (r *PostgresRepository) GetPayoutProfile(ctx context.Context, vendorID string) (*model.PayoutProfile, error) {
	var p model.PayoutProfile

	err := r.withReadRetry(ctx, func() error {
		var recipientCode *string
		err := r.pool.QueryRow(ctx,
			`SELECT vendor_id, account_number, bank_code, account_name, recipient_code, created_at, updated_at
			 FROM payout_profiles
			 WHERE vendor_id = $1`,
			vendorID,
		).Scan(&p.VendorID, &p.AccountNumber, &p.BankCode, &p.AccountName, &recipientCode, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
		if recipientCode != nil {
			p.RecipientCode = *recipientCode
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPayoutProfileNotFound
		}
		return nil, fmt.Errorf("get payout profile: %w", err)
	}

	return &p, nil
}

// UpsertPayoutProfile создаёт или обновляет банковские реквизиты вендора.
// Смена реквизитов сбрасывает закешированный код получателя: старый код
// привязан к прежнему счёту в шлюзе.
func (r *PostgresRepository) UpsertPayoutProfile(ctx context.Context, p *model.PayoutProfile) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payout_profiles (vendor_id, account_number, bank_code, account_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (vendor_id) DO UPDATE
		 SET account_number = EXCLUDED.account_number,
		     bank_code = EXCLUDED.bank_code,
		     account_name = EXCLUDED.account_name,
		     recipient_code = NULL,
		     updated_at = now()`,
		p.VendorID, p.AccountNumber, p.BankCode, p.AccountName,
	)
	if err != nil {
		return fmt.Errorf("upsert payout profile: %w", err)
	}

	return nil
}

// SetRecipientCode сохраняет код получателя в профиле вендора для повторного использования.
func (r *PostgresRepository) SetRecipientCode(ctx context.Context, vendorID, recipientCode string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payout_profiles SET recipient_code = $2, updated_at = now() WHERE vendor_id = $1`,
		vendorID, recipientCode,
	)
	if err != nil {
		return fmt.Errorf("set recipient code: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPayoutProfileNotFound
	}

	return nil
}

// GetWallet возвращает кошелёк вендора.
func (r *PostgresRepository) GetWallet(ctx context.Context, vendorID string) (*model.Wallet, error) {
	var w model.Wallet

	err := r.withReadRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT vendor_id, total_earnings, withdrawn_earnings, updated_at
			 FROM wallets
			 WHERE vendor_id = $1`,
			vendorID,
		).Scan(&w.VendorID, &w.TotalEarnings, &w.WithdrawnEarnings, &w.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}

	return &w, nil
}

// CreditWallet зачисляет amountKobo на кошелёк вендора и пишет запись в журнал операций.
// Кошелёк создаётся при первом зачислении.
func (r *PostgresRepository) CreditWallet(ctx context.Context, vendorID string, amountKobo int64, referenceType, referenceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (vendor_id, total_earnings)
		 VALUES ($1, $2)
		 ON CONFLICT (vendor_id) DO UPDATE
		 SET total_earnings = wallets.total_earnings + EXCLUDED.total_earnings,
		     updated_at = now()`,
		vendorID, amountKobo,
	)
	if err != nil {
		return fmt.Errorf("credit wallet: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (vendor_id, type, amount, reference_type, reference_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		vendorID, string(model.TransactionTypeCredit), amountKobo, referenceType, referenceID,
	)
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// DebitWallet списывает amountKobo с кошелька вендора и пишет запись в журнал операций.
// Строка кошелька блокируется для сериализации параллельных списаний; списание
// условное: если withdrawn_earnings изменился с момента чтения (expectedWithdrawnKobo),
// операция отклоняется с ErrWalletConflict.
func (r *PostgresRepository) DebitWallet(ctx context.Context, vendorID string, amountKobo, expectedWithdrawnKobo int64, referenceType, referenceID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var total, withdrawn int64
	err = tx.QueryRow(ctx,
		`SELECT total_earnings, withdrawn_earnings FROM wallets WHERE vendor_id = $1 FOR UPDATE`,
		vendorID,
	).Scan(&total, &withdrawn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWalletNotFound
		}
		return fmt.Errorf("lock wallet: %w", err)
	}

	if withdrawn != expectedWithdrawnKobo {
		return ErrWalletConflict
	}
	if withdrawn+amountKobo > total {
		return ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET withdrawn_earnings = withdrawn_earnings + $2, updated_at = now() WHERE vendor_id = $1`,
		vendorID, amountKobo,
	)
	if err != nil {
		return fmt.Errorf("debit wallet: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet_transactions (vendor_id, type, amount, reference_type, reference_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		vendorID, string(model.TransactionTypeDebit), amountKobo, referenceType, referenceID,
	)
	if err != nil {
		return fmt.Errorf("insert debit transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// CreateWithdrawal сохраняет новую заявку на вывод средств.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO withdrawals (id, vendor_id, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.VendorID, w.Amount, string(w.Status), w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}

	return nil
}

// MarkWithdrawalProcessing переводит заявку в статус processing и сохраняет код перевода.
func (r *PostgresRepository) MarkWithdrawalProcessing(ctx context.Context, id uuid.UUID, transferCode string) error {
	return r.transitionWithdrawal(ctx, id, model.WithdrawalStatusProcessing, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE withdrawals SET status = $2, transfer_code = $3 WHERE id = $1`,
			id, string(model.WithdrawalStatusProcessing), transferCode,
		)
		return err
	})
}

// MarkWithdrawalFailed переводит заявку в статус failed с сообщением об ошибке.
func (r *PostgresRepository) MarkWithdrawalFailed(ctx context.Context, id uuid.UUID, message string) error {
	return r.transitionWithdrawal(ctx, id, model.WithdrawalStatusFailed, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE withdrawals SET status = $2, error_message = $3, processed_at = now() WHERE id = $1`,
			id, string(model.WithdrawalStatusFailed), message,
		)
		return err
	})
}

// transitionWithdrawal выполняет переход статуса заявки с проверкой таблицы переходов.
func (r *PostgresRepository) transitionWithdrawal(ctx context.Context, id uuid.UUID, target model.WithdrawalStatus, apply func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrWithdrawalNotFound
		}
		return fmt.Errorf("lock withdrawal: %w", err)
	}

	if !model.WithdrawalStatus(current).CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}

	if err := apply(tx); err != nil {
		return fmt.Errorf("update withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// ApplyTransferEvent применяет итог перевода из вебхука шлюза к заявке,
// найденной по коду перевода. Возвращает false без ошибки, если заявка не
// найдена или уже в терминальном статусе: повторная доставка вебхука — не сбой.
func (r *PostgresRepository) ApplyTransferEvent(ctx context.Context, transferCode string, target model.WithdrawalStatus, failureReason string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	var current string
	err = tx.QueryRow(ctx,
		`SELECT id, status FROM withdrawals WHERE transfer_code = $1 FOR UPDATE`,
		transferCode,
	).Scan(&id, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("lock withdrawal by transfer code: %w", err)
	}

	if !model.WithdrawalStatus(current).CanTransitionTo(target) {
		return false, nil
	}

	var errorMessage *string
	if failureReason != "" {
		errorMessage = &failureReason
	}

	_, err = tx.Exec(ctx,
		`UPDATE withdrawals SET status = $2, error_message = COALESCE($3, error_message), processed_at = now() WHERE id = $1`,
		id, string(target), errorMessage,
	)
	if err != nil {
		return false, fmt.Errorf("update withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}

	return true, nil
}

// GetWithdrawalsByVendor возвращает историю заявок вендора, новые первыми.
func (r *PostgresRepository) GetWithdrawalsByVendor(ctx context.Context, vendorID string) ([]model.Withdrawal, error) {
	var res []model.Withdrawal

	err := r.withReadRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, vendor_id, amount, status, transfer_code, error_message, created_at, processed_at
			 FROM withdrawals
			 WHERE vendor_id = $1
			 ORDER BY created_at DESC`,
			vendorID,
		)
		if err != nil {
			return fmt.Errorf("select withdrawals: %w", err)
		}
		defer rows.Close()

		res = res[:0]
		for rows.Next() {
			var (
				w            model.Withdrawal
				status       string
				transferCode *string
				errorMessage *string
			)
			if err := rows.Scan(&w.ID, &w.VendorID, &w.Amount, &status, &transferCode, &errorMessage, &w.CreatedAt, &w.ProcessedAt); err != nil {
				return fmt.Errorf("scan withdrawal: %w", err)
			}

			w.Status = model.WithdrawalStatus(status)
			if transferCode != nil {
				w.TransferCode = *transferCode
			}
			if errorMessage != nil {
				w.ErrorMessage = *errorMessage
			}

			res = append(res, w)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}
