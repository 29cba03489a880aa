package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/shopcore-system/internal/model"
)

// CreateOrder создаёт заказ, резервируя cashback из доступного баланса.
// Проверка баланса и запись резерва выполняются в одной транзакции под
// блокировкой строки леджера, чтобы параллельные оформления не ушли в минус.
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID, totalCents, cashbackCents int64, couponCode string) (int64, error) {
	if cashbackCents < 0 || totalCents <= 0 {
		return 0, fmt.Errorf("invalid order amounts: total=%d cashback=%d", totalCents, cashbackCents)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if cashbackCents > 0 {
		var rawBalance int64
		err = tx.QueryRow(ctx,
			`SELECT raw_balance FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&rawBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, ErrUserNotFound
			}
			return 0, fmt.Errorf("lock ledger account: %w", err)
		}

		var reserved int64
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(SUM(cashback_used), 0) FROM orders
			 WHERE user_id = $1 AND status = $2`,
			userID, string(model.OrderStatusPending),
		).Scan(&reserved)
		if err != nil {
			return 0, fmt.Errorf("sum reservations: %w", err)
		}

		if cashbackCents > rawBalance-reserved {
			return 0, ErrInsufficientBalance
		}
	}

	var orderID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, total, cashback_used, coupon_code)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		userID, totalCents, cashbackCents, couponCode,
	).Scan(&orderID)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return orderID, nil
}

// GetOrdersByUser возвращает список заказов пользователя.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, total, status, payment_status, cashback_used,
		        coupon_code, COALESCE(txn_id, ''), paid_at, completed_at, created_at
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var status, paymentStatus string
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &status, &paymentStatus,
			&o.CashbackUsed, &o.CouponCode, &o.TxnID, &o.PaidAt, &o.CompletedAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)
		o.PaymentStatus = model.PaymentStatus(paymentStatus)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetBalance возвращает полный и доступный баланс пользователя в копейках.
// Доступный баланс вычисляется за вычетом резервов незавершённых заказов.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (int64, int64, error) {
	var raw, available int64

	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`SELECT la.raw_balance,
			        la.raw_balance - COALESCE((
			            SELECT SUM(o.cashback_used) FROM orders o
			            WHERE o.user_id = la.user_id AND o.status = $2
			        ), 0)
			 FROM ledger_accounts la
			 WHERE la.user_id = $1`,
			userID, string(model.OrderStatusPending),
		).Scan(&raw, &available)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrUserNotFound
		}
		return 0, 0, fmt.Errorf("select balance: %w", err)
	}

	return raw, available, nil
}

// CancelOrder переводит заказ пользователя из pending в cancelled.
// Резерв cashback виртуальный, поэтому записи в леджер не требуется.
func (r *PostgresRepository) CancelOrder(ctx context.Context, orderID, userID int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3
		 WHERE id = $1 AND user_id = $2 AND status = $4`,
		orderID, userID, string(model.OrderStatusCancelled), string(model.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1 AND user_id = $2)`,
			orderID, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrInvalidTransition
	}

	return nil
}

// CompleteOrder переводит заказ из paid в completed и возвращает данные для письма.
// Повторный вызов отклоняется условием на текущий статус.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID int64) (string, int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var email string
	var total int64
	err = tx.QueryRow(ctx,
		`SELECT u.email, o.total FROM orders o
		 JOIN users u ON o.user_id = u.id
		 WHERE o.id = $1
		 FOR UPDATE OF o`,
		orderID,
	).Scan(&email, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrOrderNotFound
		}
		return "", 0, fmt.Errorf("select order: %w", err)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, completed_at = NOW()
		 WHERE id = $1 AND status = $3`,
		orderID, string(model.OrderStatusCompleted), string(model.OrderStatusPaid),
	)
	if err != nil {
		return "", 0, fmt.Errorf("complete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return "", 0, ErrInvalidTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, fmt.Errorf("commit tx: %w", err)
	}

	return email, total, nil
}

// PaymentResult содержит итог успешного проведения платежа по заказу.
type PaymentResult struct {
	OrderID       int64
	UserID        int64
	UserEmail     string
	TotalCents    int64
	CashbackCents int64
	ReferrerID    *int64
	ReferralCents int64
}

// SettlePayment проводит платёж по заказу: переход pending -> paid, списание
// резерва, начисление кэшбэка покупателю и однократное вознаграждение
// пригласившего. Все эффекты выполняются в одной транзакции; сумма платежа
// сверяется с суммой заказа под той же блокировкой.
func (r *PostgresRepository) SettlePayment(ctx context.Context, orderID int64, txnID string, grossCents int64, cashbackPercent, referrerPercent int) (*PaymentResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		userID       int64
		email        string
		total        int64
		cashbackUsed int64
		status       string
	)
	err = tx.QueryRow(ctx,
		`SELECT o.user_id, u.email, o.total, o.cashback_used, o.status
		 FROM orders o
		 JOIN users u ON o.user_id = u.id
		 WHERE o.id = $1
		 FOR UPDATE OF o`,
		orderID,
	).Scan(&userID, &email, &total, &cashbackUsed, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if status != string(model.OrderStatusPending) {
		return nil, ErrInvalidTransition
	}

	if grossCents != total {
		return nil, fmt.Errorf("%w: order=%d payment=%d", ErrAmountMismatch, total, grossCents)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, txn_id = $4, paid_at = NOW()
		 WHERE id = $1 AND status = $5`,
		orderID, string(model.OrderStatusPaid), string(model.PaymentStatusCompleted),
		txnID, string(model.OrderStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, ErrInvalidTransition
	}

	// Резерв становится постоянным списанием: заказ покидает pending,
	// и сумма уходит из raw_balance.
	if cashbackUsed > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE ledger_accounts SET raw_balance = raw_balance - $2, updated_at = NOW()
			 WHERE user_id = $1`,
			userID, cashbackUsed,
		)
		if err != nil {
			return nil, fmt.Errorf("redeem reservation: %w", err)
		}
	}

	result := &PaymentResult{
		OrderID:    orderID,
		UserID:     userID,
		UserEmail:  email,
		TotalCents: total,
	}

	result.CashbackCents = total * int64(cashbackPercent) / 100
	if result.CashbackCents > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE ledger_accounts SET raw_balance = raw_balance + $2, updated_at = NOW()
			 WHERE user_id = $1`,
			userID, result.CashbackCents,
		)
		if err != nil {
			return nil, fmt.Errorf("credit cashback: %w", err)
		}
	}

	// Вознаграждение пригласившему начисляется один раз — на первом
	// оплаченном заказе приглашённого.
	var referrerID int64
	err = tx.QueryRow(ctx,
		`SELECT referrer_id FROM referral_edges
		 WHERE referred_id = $1 AND reward_status = $2
		 FOR UPDATE`,
		userID, string(model.RewardStatusPending),
	).Scan(&referrerID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("select referral edge: %w", err)
	}

	if err == nil {
		reward := total * int64(referrerPercent) / 100
		_, err = tx.Exec(ctx,
			`UPDATE referral_edges SET reward_status = $2, reward = $3
			 WHERE referred_id = $1`,
			userID, string(model.RewardStatusEarned), reward,
		)
		if err != nil {
			return nil, fmt.Errorf("mark reward earned: %w", err)
		}

		if reward > 0 {
			_, err = tx.Exec(ctx,
				`UPDATE ledger_accounts SET raw_balance = raw_balance + $2, updated_at = NOW()
				 WHERE user_id = $1`,
				referrerID, reward,
			)
			if err != nil {
				return nil, fmt.Errorf("credit referrer: %w", err)
			}
		}

		result.ReferrerID = &referrerID
		result.ReferralCents = reward
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return result, nil
}

// FailPayment отменяет pending-заказ по неуспешному платёжному уведомлению.
func (r *PostgresRepository) FailPayment(ctx context.Context, orderID int64, txnID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, payment_status = $3, txn_id = $4
		 WHERE id = $1 AND status = $5`,
		orderID, string(model.OrderStatusCancelled), string(model.PaymentStatusFailed),
		txnID, string(model.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("fail payment: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`,
			orderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrInvalidTransition
	}

	return nil
}
