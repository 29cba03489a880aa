package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mmeshcher/shopcore-system/internal/model"
)

const notificationColumns = `id, raw_body, user_agent, source_ip, payment_status,
	txn_id, receiver_email, order_ref, gross, currency,
	verification_status, processing_status, error_message, order_id,
	received_at, processed_at`

// CreateNotification записывает входящее платёжное уведомление в журнал.
// Журнал только дописывается: по записи на каждую доставку, включая дубликаты.
func (r *PostgresRepository) CreateNotification(ctx context.Context, n *model.Notification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_notifications (
		     id, raw_body, user_agent, source_ip, payment_status, txn_id,
		     receiver_email, order_ref, gross, currency
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.RawBody, n.UserAgent, n.SourceIP, n.PaymentStatus, n.TxnID,
		n.ReceiverEmail, n.OrderRef, n.GrossCents, n.Currency,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// SetNotificationVerification однократно фиксирует результат проверки подлинности.
func (r *PostgresRepository) SetNotificationVerification(ctx context.Context, id string, status model.VerificationStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payment_notifications SET verification_status = $2
		 WHERE id = $1 AND verification_status = $3`,
		id, string(status), string(model.VerificationPending),
	)
	if err != nil {
		return fmt.Errorf("update verification status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkNotificationProcessed однократно фиксирует итог обработки уведомления.
func (r *PostgresRepository) MarkNotificationProcessed(ctx context.Context, id string, status model.ProcessingStatus, errMsg string, orderID *int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE payment_notifications
		 SET processing_status = $2, error_message = $3, order_id = $4, processed_at = NOW()
		 WHERE id = $1 AND processing_status = $5`,
		id, string(status), errMsg, orderID, string(model.ProcessingPending),
	)
	if err != nil {
		return fmt.Errorf("update processing status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// IsDuplicateTxn сообщает, произвела ли транзакция уже эффект над заказом в
// другой доставке. Доставки без эффекта дубликатами не считаются: PayPal
// присылает несколько уведомлений одного txn_id с разными статусами, и
// Pending перед Completed не должен блокировать проведение платежа.
func (r *PostgresRepository) IsDuplicateTxn(ctx context.Context, txnID, excludeID string) (bool, error) {
	if txnID == "" {
		return false, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(
		     SELECT 1 FROM payment_notifications
		     WHERE txn_id = $1 AND id <> $2 AND processing_status = $3
		       AND order_id IS NOT NULL
		 )`,
		txnID, excludeID, string(model.ProcessingSuccess),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate txn: %w", err)
	}

	return exists, nil
}

// GetNotification возвращает запись журнала по идентификатору.
func (r *PostgresRepository) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM payment_notifications WHERE id = $1`,
		id,
	)

	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// NotificationFilter задаёт фильтры списка уведомлений для операторского просмотра.
type NotificationFilter struct {
	ProcessingStatus string
	TxnID            string
	OrderRef         string
	Limit            int
	Offset           int
}

// ListNotifications возвращает журнал уведомлений, новые записи первыми.
func (r *PostgresRepository) ListNotifications(ctx context.Context, f NotificationFilter) ([]model.Notification, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationColumns+`
		 FROM payment_notifications
		 WHERE ($1 = '' OR processing_status = $1)
		   AND ($2 = '' OR txn_id = $2)
		   AND ($3 = '' OR order_ref = $3)
		 ORDER BY received_at DESC
		 LIMIT $4 OFFSET $5`,
		f.ProcessingStatus, f.TxnID, f.OrderRef, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanNotification(row pgx.Row) (*model.Notification, error) {
	var n model.Notification
	var verification, processing string
	err := row.Scan(&n.ID, &n.RawBody, &n.UserAgent, &n.SourceIP, &n.PaymentStatus,
		&n.TxnID, &n.ReceiverEmail, &n.OrderRef, &n.GrossCents, &n.Currency,
		&verification, &processing, &n.ErrorMessage, &n.OrderID,
		&n.ReceivedAt, &n.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	n.VerificationStatus = model.VerificationStatus(verification)
	n.ProcessingStatus = model.ProcessingStatus(processing)
	return &n, nil
}
